package recover

import "strings"

// Built-in bilingual vocabulary for the research domains this tool gets
// pointed at: industrial materials, energy, and market monitoring.
// Custom entries from config extend, not replace, these tables.

// synonyms maps a single query token to its substitutes. ASCII keys are
// lowercase; lookups normalize case before matching.
var synonyms = map[string][]string{
	// ja ↔ ja / en
	"レアアース":  {"希土類", "rare earth"},
	"希土類":    {"レアアース"},
	"需給":     {"需要と供給", "supply and demand"},
	"需要":     {"demand"},
	"供給":     {"supply"},
	"市場":     {"マーケット", "market"},
	"動向":     {"トレンド", "推移"},
	"価格":     {"相場", "price"},
	"半導体":    {"semiconductor"},
	"電気自動車":  {"EV", "electric vehicle"},
	"蓄電池":    {"バッテリー", "battery"},
	"規制":     {"regulation"},
	"政策":     {"policy"},
	"調査":     {"survey", "リサーチ"},
	"統計":     {"statistics"},
	"輸出":     {"export"},
	"輸入":     {"import"},
	"見通し":    {"予測", "outlook"},

	// en ↔ en / ja
	"ev":            {"electric vehicle", "電気自動車"},
	"battery":       {"batteries", "蓄電池"},
	"semiconductor": {"chip", "半導体"},
	"outlook":       {"forecast", "見通し"},
	"market":        {"industry", "市場"},
	"price":         {"pricing", "価格"},
	"supply":        {"供給", "procurement"},
	"demand":        {"需要", "consumption"},
	"regulation":    {"regulations", "規制"},
	"report":        {"analysis", "レポート"},
}

// stopWords are dropped by the simplify strategy. Particles and filler in
// either language; none of them narrow a search.
var stopWords = map[string]struct{}{
	// ja particles and filler
	"の": {}, "は": {}, "が": {}, "を": {}, "に": {}, "へ": {},
	"と": {}, "で": {}, "や": {}, "から": {}, "まで": {},
	"について": {}, "に関する": {}, "最新": {}, "情報": {}, "とは": {},
	// en
	"the": {}, "a": {}, "an": {}, "of": {}, "for": {}, "in": {},
	"on": {}, "at": {}, "and": {}, "or": {}, "to": {}, "about": {},
	"latest": {}, "news": {}, "info": {},
}

// jaEnPhrases drive the translate strategy: whole-string substitution,
// longest phrase first so 電気自動車 wins over 電気.
var jaEnPhrases = []struct {
	JA string
	EN string
}{
	{"需要と供給", "supply and demand"},
	{"電気自動車", "electric vehicle"},
	{"レアアース", "rare earth"},
	{"希土類", "rare earth elements"},
	{"蓄電池", "storage battery"},
	{"半導体", "semiconductor"},
	{"見通し", "outlook"},
	{"レポート", "report"},
	{"リサーチ", "research"},
	{"需給", "supply and demand"},
	{"需要", "demand"},
	{"供給", "supply"},
	{"市場", "market"},
	{"動向", "trends"},
	{"価格", "price"},
	{"相場", "market price"},
	{"規制", "regulation"},
	{"政策", "policy"},
	{"調査", "survey"},
	{"統計", "statistics"},
	{"輸出", "export"},
	{"輸入", "import"},
	{"予測", "forecast"},
	{"企業", "company"},
	{"産業", "industry"},
	{"技術", "technology"},
	{"日本", "japan"},
	{"中国", "china"},
	{"世界", "global"},
}

// topicSite pairs trigger keywords with reference URLs, best first:
// official body, encyclopedia, then market research.
type topicSite struct {
	Topic    string
	Keywords []string
	URLs     []string
}

var topicSites = []topicSite{
	{
		Topic:    "rare-earth",
		Keywords: []string{"レアアース", "希土類", "rare earth"},
		URLs: []string{
			"https://www.jogmec.go.jp/mineral/",
			"https://en.wikipedia.org/wiki/Rare-earth_element",
			"https://www.usgs.gov/centers/national-minerals-information-center/rare-earths-statistics-and-information",
		},
	},
	{
		Topic:    "semiconductor",
		Keywords: []string{"半導体", "semiconductor", "chip"},
		URLs: []string{
			"https://www.semiconductors.org/",
			"https://en.wikipedia.org/wiki/Semiconductor_industry",
			"https://www.wsts.org/",
		},
	},
	{
		Topic:    "ev-battery",
		Keywords: []string{"電気自動車", "蓄電池", "electric vehicle", "battery"},
		URLs: []string{
			"https://www.iea.org/topics/transport",
			"https://en.wikipedia.org/wiki/Electric_vehicle_battery",
			"https://about.bnef.com/",
		},
	},
	{
		Topic:    "energy",
		Keywords: []string{"エネルギー", "energy", "電力", "renewable"},
		URLs: []string{
			"https://www.enecho.meti.go.jp/",
			"https://en.wikipedia.org/wiki/Energy_industry",
			"https://www.iea.org/",
		},
	},
	{
		Topic:    "trade",
		Keywords: []string{"輸出", "輸入", "貿易", "trade", "export", "import"},
		URLs: []string{
			"https://www.jetro.go.jp/",
			"https://en.wikipedia.org/wiki/International_trade",
			"https://www.wto.org/",
		},
	},
}

// isYearToken reports 4-digit year tokens, with or without the 年 suffix.
func isYearToken(tok string) bool {
	t := strings.TrimSuffix(tok, "年")
	if len(t) != 4 {
		return false
	}
	for _, r := range t {
		if r < '0' || r > '9' {
			return false
		}
	}
	return t[0] == '1' || t[0] == '2'
}

// hasNonASCII reports whether s contains any rune beyond 7-bit ASCII.
func hasNonASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return true
		}
	}
	return false
}

// lookupSynonyms checks the custom table first, then the built-in one.
// ASCII tokens match case-insensitively.
func lookupSynonyms(tok string, custom map[string][]string) []string {
	key := strings.ToLower(tok)
	if custom != nil {
		if alts, ok := custom[tok]; ok {
			return alts
		}
		if alts, ok := custom[key]; ok {
			return alts
		}
	}
	if alts, ok := synonyms[tok]; ok {
		return alts
	}
	return synonyms[key]
}
