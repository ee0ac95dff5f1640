package pipeline

import (
	"fmt"
	"strings"
)

// Canned assistant messages used when a deterministic stage terminates the
// search or a model-generated message is unavailable. Keyed by the primary
// subtag of the assistant language; unknown languages fall back to English.
// summary_many takes indexed verbs (1=count, 2=query, 3=names) because the
// natural argument order differs per language.
var cannedMessages = map[string]map[string]string{
	"en": {
		"clarify_food":     "I wasn't sure whether you're looking for a place to eat. Could you tell me more about what you'd like?",
		"clarify_location": "Where should I look? Share your location or name a city or landmark.",
		"stopped":          "I can only help with finding restaurants, cafes, and bars. Try asking about a place to eat or drink.",
		"cancelled":        "This search was cancelled.",
		"summary_none":     "I couldn't find any places for \"%s\".",
		"summary_one":      "I found one place for \"%s\": %s.",
		"summary_many":     "I found %[1]d places for \"%[2]s\", including %[3]s.",
		"chip_open_now":    "Open now",
		"chip_top_rated":   "Top rated",
		"chip_near_me":     "Near me",
	},
	"ja": {
		"clarify_food":     "お食事の場所をお探しでしょうか?もう少し詳しく教えてください。",
		"clarify_location": "どのあたりで探しますか?現在地を共有するか、都市やランドマークを教えてください。",
		"stopped":          "レストランやカフェ、バーの検索のみお手伝いできます。飲食店についてお尋ねください。",
		"cancelled":        "この検索はキャンセルされました。",
		"summary_none":     "「%s」に合うお店は見つかりませんでした。",
		"summary_one":      "「%s」で1軒見つかりました: %s。",
		"summary_many":     "「%[2]s」で%[1]d軒見つかりました。%[3]sなどです。",
		"chip_open_now":    "営業中",
		"chip_top_rated":   "高評価",
		"chip_near_me":     "近く",
	},
	"de": {
		"clarify_food":     "Ich bin nicht sicher, ob du einen Ort zum Essen suchst. Magst du mir mehr verraten?",
		"clarify_location": "Wo soll ich suchen? Teile deinen Standort oder nenne eine Stadt oder ein Wahrzeichen.",
		"stopped":          "Ich kann nur bei der Suche nach Restaurants, Cafés und Bars helfen.",
		"cancelled":        "Diese Suche wurde abgebrochen.",
		"summary_none":     "Für \"%s\" habe ich leider nichts gefunden.",
		"summary_one":      "Für \"%s\" habe ich einen Ort gefunden: %s.",
		"summary_many":     "Für \"%[2]s\" habe ich %[1]d Orte gefunden, darunter %[3]s.",
		"chip_open_now":    "Jetzt geöffnet",
		"chip_top_rated":   "Top bewertet",
		"chip_near_me":     "In der Nähe",
	},
	"es": {
		"clarify_food":     "No estoy seguro de si buscas un lugar para comer. ¿Puedes contarme un poco más?",
		"clarify_location": "¿Dónde busco? Comparte tu ubicación o dime una ciudad o un punto de referencia.",
		"stopped":          "Solo puedo ayudarte a encontrar restaurantes, cafeterías y bares.",
		"cancelled":        "Esta búsqueda fue cancelada.",
		"summary_none":     "No encontré lugares para \"%s\".",
		"summary_one":      "Encontré un lugar para \"%s\": %s.",
		"summary_many":     "Encontré %[1]d lugares para \"%[2]s\", incluyendo %[3]s.",
		"chip_open_now":    "Abierto ahora",
		"chip_top_rated":   "Mejor valorados",
		"chip_near_me":     "Cerca de mí",
	},
	"fr": {
		"clarify_food":     "Je ne suis pas sûr que vous cherchiez un endroit où manger. Pouvez-vous préciser ?",
		"clarify_location": "Où dois-je chercher ? Partagez votre position ou indiquez une ville ou un lieu connu.",
		"stopped":          "Je ne peux aider qu'à trouver des restaurants, cafés et bars.",
		"cancelled":        "Cette recherche a été annulée.",
		"summary_none":     "Je n'ai trouvé aucun lieu pour \"%s\".",
		"summary_one":      "J'ai trouvé un lieu pour \"%s\" : %s.",
		"summary_many":     "J'ai trouvé %[1]d lieux pour \"%[2]s\", dont %[3]s.",
		"chip_open_now":    "Ouvert maintenant",
		"chip_top_rated":   "Les mieux notés",
		"chip_near_me":     "À proximité",
	},
}

// messageFor resolves a canned message for the assistant language
func messageFor(lang, key string) string {
	primary := strings.ToLower(lang)
	if idx := strings.Index(primary, "-"); idx > 0 {
		primary = primary[:idx]
	}
	if table, ok := cannedMessages[primary]; ok {
		if msg, ok := table[key]; ok {
			return msg
		}
	}
	return cannedMessages["en"][key]
}

// fallbackSummary is the deterministic narration used when the model is
// unavailable
func fallbackSummary(lang, query string, names []string) string {
	switch len(names) {
	case 0:
		return fmt.Sprintf(messageFor(lang, "summary_none"), query)
	case 1:
		return fmt.Sprintf(messageFor(lang, "summary_one"), query, names[0])
	default:
		top := strings.Join(names[:min(2, len(names))], ", ")
		return fmt.Sprintf(messageFor(lang, "summary_many"), len(names), query, top)
	}
}
