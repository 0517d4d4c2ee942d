// Package parser recovers diagnosis and prescription records from model
// replies. Replies carrying a JSON object are mapped key by key; anything
// else goes through label-bounded text extraction.
package parser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cast"
	"gorm.io/datatypes"

	"github.com/ariebrainware/tcm-diagnosis/model"
)

// Result holds the records built from one reply. Neither is persisted.
type Result struct {
	Diagnosis    model.Diagnosis
	Prescription model.Prescription
}

var (
	codeFence    = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	leadingDigit = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	dosageText   = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(\S*)$`)
)

// Parse builds the records for reply, choosing the structured path when the
// reply is a JSON object with a diagnosis or prescription member.
func Parse(reply string) Result {
	if obj, ok := decodeObject(reply); ok && isStructured(obj) {
		res := ParseStructured(obj)
		res.Diagnosis.RawReply = reply
		applyFallback(&res.Diagnosis, reply)
		return res
	}
	return ParseText(reply)
}

func decodeObject(reply string) (map[string]any, bool) {
	s := strings.TrimSpace(reply)
	if m := codeFence.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func isStructured(obj map[string]any) bool {
	_, d := obj["diagnosis"].(map[string]any)
	_, p := obj["prescription"].(map[string]any)
	return d || p
}

// ParseStructured maps an already-decoded reply. Missing sub-objects leave
// their record at its defaults. RawReply is left empty.
func ParseStructured(obj map[string]any) Result {
	res := Result{
		Diagnosis:    model.Diagnosis{ConfidenceScore: model.DefaultConfidenceScore},
		Prescription: model.NewPrescription(),
	}

	if d, ok := obj["diagnosis"].(map[string]any); ok {
		diag := &res.Diagnosis
		diag.SyndromeAnalysis = stringField(d, syndromeKeys)
		diag.TreatmentPrinciple = stringField(d, principleKeys)
		diag.DiagnosisResult = stringField(d, resultKeys)
		diag.Suggestions = stringField(d, adviceKeys)
		diag.Precautions = stringField(d, cautionKeys)
		diag.Prognosis = stringField(d, prognosisKeys)
		if v, ok := lookup(d, confidenceKeys); ok {
			if score, ok := toNumber(v); ok {
				diag.ConfidenceScore = score
			}
		}
	}

	if p, ok := obj["prescription"].(map[string]any); ok {
		rx := &res.Prescription
		rx.PrescriptionName = stringField(p, nameKeys)
		if v, ok := lookup(p, herbsKeys); ok {
			rx.Herbs = datatypes.JSONSlice[model.Herb](herbsFromValue(v))
		}
		if s := stringField(p, dosageKeys); s != "" {
			rx.DosageInstructions = s
		}
		if s := stringField(p, preparationKeys); s != "" {
			rx.PreparationMethod = s
		}
		if v, ok := lookup(p, durationKeys); ok {
			if days, ok := toNumber(v); ok && days > 0 {
				rx.DurationDays = int(days)
			}
		}
		rx.Modifications = stringField(p, modificationKeys)
		rx.Contraindications = stringField(p, contraKeys)
		rx.Notes = stringField(p, notesKeys)
	}

	if strings.TrimSpace(res.Prescription.PrescriptionName) == "" {
		res.Prescription.PrescriptionName = model.DefaultPrescriptionName
	}
	return res
}

// ParseText runs the free-text path over reply.
func ParseText(reply string) Result {
	diag := model.Diagnosis{
		SyndromeAnalysis:   syndromeRule.extract(reply),
		TreatmentPrinciple: principleRule.extract(reply),
		DiagnosisResult:    resultRule.extract(reply),
		Suggestions:        adviceRule.extract(reply),
		Precautions:        cautionRule.extract(reply),
		Prognosis:          prognosisRule.extract(reply),
		ConfidenceScore:    model.DefaultConfidenceScore,
		RawReply:           reply,
	}
	applyFallback(&diag, reply)

	rx := model.NewPrescription()
	rx.PrescriptionName = nameRule.extract(reply)
	if herbs := herbsRule.extract(reply); herbs != "" {
		rx.Herbs = datatypes.JSONSlice[model.Herb](ParseHerbs(herbs))
	}
	if s := dosageRule.extract(reply); s != "" {
		rx.DosageInstructions = s
	}
	if s := preparationRule.extract(reply); s != "" {
		rx.PreparationMethod = s
	}
	rx.Modifications = modificationRule.extract(reply)
	rx.Contraindications = contraRule.extract(reply)
	rx.Notes = notesRule.extract(reply)
	if rx.PrescriptionName == "" {
		rx.PrescriptionName = model.DefaultPrescriptionName
	}

	return Result{Diagnosis: diag, Prescription: rx}
}

// applyFallback stores the whole reply as the diagnosis result when nothing
// else could be recovered.
func applyFallback(d *model.Diagnosis, reply string) {
	if d.IsEmpty() {
		d.DiagnosisResult = strings.TrimSpace(reply)
	}
}

func stringField(m map[string]any, keys []string) string {
	v, ok := lookup(m, keys)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case []any:
		parts := lo.FilterMap(t, func(item any, _ int) (string, bool) {
			s := strings.TrimSpace(cast.ToString(item))
			return s, s != ""
		})
		return strings.Join(parts, "\n")
	case map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return strings.TrimSpace(cast.ToString(v))
}

// toNumber coerces numeric-looking values such as 90, "90" or "90%".
func toNumber(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		n := leadingDigit.FindString(s)
		if n == "" {
			return 0, false
		}
		v = n
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

// herbsFromValue accepts a herb list as text, as a list of strings, or as a
// list of {name, dosage, unit} objects.
func herbsFromValue(v any) []model.Herb {
	switch t := v.(type) {
	case string:
		return ParseHerbs(t)
	case []any:
		herbs := make([]model.Herb, 0, len(t))
		for _, item := range t {
			switch h := item.(type) {
			case string:
				herbs = append(herbs, ParseHerbs(h)...)
			case map[string]any:
				if herb, ok := herbFromObject(h); ok {
					herbs = append(herbs, herb)
				}
			}
		}
		return herbs
	}
	return []model.Herb{}
}

func herbFromObject(h map[string]any) (model.Herb, bool) {
	name := stringField(h, []string{"name", "药名"})
	if name == "" {
		return model.Herb{}, false
	}
	herb := model.Herb{Name: name, Unit: stringField(h, []string{"unit", "单位"})}
	if v, ok := lookup(h, []string{"dosage", "剂量"}); ok {
		dosage, unit := herbDosageValue(v)
		herb.Dosage = dosage
		if herb.Unit == "" {
			herb.Unit = unit
		}
	}
	if herb.Unit == "" {
		herb.Unit = model.DefaultHerbUnit
	}
	return herb, true
}

// herbDosageValue reads a dosage given as a number or as text such as "10g"
// or "3片". Text keeps whatever unit follows the number; text that does not
// start with a number, such as "适量", is dosage 0.
func herbDosageValue(v any) (float64, string) {
	s, ok := v.(string)
	if !ok {
		if d, err := cast.ToFloat64E(v); err == nil {
			return d, ""
		}
		return 0, ""
	}
	m := dosageText.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, ""
	}
	d, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, ""
	}
	return d, m[2]
}
