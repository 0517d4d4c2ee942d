package parser

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// textRule extracts one field from a free-text reply. Labels are tried in
// order and the first one that yields a value wins. The capture runs from the
// label's colon to the earliest label of any field after it, or to the end of
// the text.
type textRule struct {
	labels   []string
	lineOnly bool
	patterns []*regexp.Regexp
	stops    []*regexp.Regexp
}

func newTextRule(labels []string, lineOnly bool) *textRule {
	r := &textRule{labels: labels, lineOnly: lineOnly}
	r.patterns = lo.Map(labels, func(l string, _ int) *regexp.Regexp { return labelPattern(l) })
	return r
}

// labelPattern matches a label and its colon. Markdown emphasis between the
// two is tolerated.
func labelPattern(label string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(label) + `(?:\*\*)?\s*[：:]\s*`)
}

func (r *textRule) extract(text string) string {
	for _, re := range r.patterns {
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if v := r.capture(text[loc[1]:]); v != "" {
			return v
		}
	}
	return ""
}

func (r *textRule) capture(rest string) string {
	end := len(rest)
	if r.lineOnly {
		if i := strings.IndexByte(rest, '\n'); i >= 0 {
			end = i
		}
		return cleanCapture(rest[:end])
	}

	// A label directly followed by the next one is an empty field.
	for _, stop := range r.stops {
		if loc := stop.FindStringIndex(rest); loc != nil && loc[0] < end {
			end = loc[0]
		}
	}
	return cleanCapture(rest[:end])
}

// cleanCapture drops surrounding whitespace and the markdown heading or
// emphasis markers that precede the next label.
func cleanCapture(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "#* \t\r\n")
	return strings.TrimSpace(s)
}

// chainRules makes every label of a later rule, and every boundary heading,
// a stop for each earlier rule.
func chainRules(boundaries []string, rules ...*textRule) []*textRule {
	extra := lo.Map(boundaries, func(l string, _ int) *regexp.Regexp { return labelPattern(l) })
	for i, r := range rules {
		for _, later := range rules[i+1:] {
			r.stops = append(r.stops, later.patterns...)
		}
		r.stops = append(r.stops, extra...)
	}
	return rules
}

// Free-text rules in the order the fields appear in a reply. The first label
// of each rule is the one the system instruction asks for.
var (
	syndromeRule  = newTextRule([]string{"辩证分析", "证候分析"}, false)
	principleRule = newTextRule([]string{"治疗原则", "治法"}, false)
	resultRule    = newTextRule([]string{"诊断结果"}, false)
	adviceRule    = newTextRule([]string{"医嘱建议", "医嘱", "建议"}, false)
	cautionRule   = newTextRule([]string{"注意事项"}, false)
	prognosisRule = newTextRule([]string{"预后评估", "预后"}, false)

	nameRule         = newTextRule([]string{"方剂名称", "处方名称", "方剂", "处方"}, true)
	herbsRule        = newTextRule([]string{"药物组成"}, false)
	dosageRule       = newTextRule([]string{"用法用量", "服用方法", "用法"}, false)
	preparationRule  = newTextRule([]string{"煎服方法"}, false)
	modificationRule = newTextRule([]string{"随症加减", "加减"}, false)
	contraRule       = newTextRule([]string{"禁忌", "注意事项"}, false)
	notesRule        = newTextRule([]string{"备注"}, false)

	// Headings some replies insert that belong to no field.
	boundaryHeadings = []string{"处方建议"}

	textRules = chainRules(boundaryHeadings,
		syndromeRule, principleRule, resultRule, adviceRule, cautionRule, prognosisRule,
		nameRule, herbsRule, dosageRule, preparationRule, modificationRule, contraRule, notesRule,
	)
)

// Structured-path aliases. The canonical key comes first, then the
// native-language keys, in precedence order.
var (
	syndromeKeys   = []string{"syndrome_analysis", "辩证分析"}
	principleKeys  = []string{"treatment_principle", "治疗原则"}
	resultKeys     = []string{"diagnosis_result", "诊断结果"}
	adviceKeys     = []string{"suggestions", "医嘱建议"}
	cautionKeys    = []string{"precautions", "注意事项"}
	prognosisKeys  = []string{"prognosis", "预后评估"}
	confidenceKeys = []string{"confidence_score", "置信度"}

	nameKeys         = []string{"name", "方剂名称"}
	herbsKeys        = []string{"herbs", "药物组成"}
	dosageKeys       = []string{"dosage", "用法用量"}
	preparationKeys  = []string{"preparation", "煎服方法"}
	durationKeys     = []string{"duration", "服用天数"}
	modificationKeys = []string{"modifications", "加减"}
	contraKeys       = []string{"contraindications", "禁忌"}
	notesKeys        = []string{"notes", "备注"}
)

// lookup returns the value of the first alias present in m.
func lookup(m map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}
