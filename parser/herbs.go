package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/ariebrainware/tcm-diagnosis/model"
)

var (
	herbSeparator = regexp.MustCompile(`[，、,；;\n]\s*`)
	herbDosage    = regexp.MustCompile(`^(.+?)\s*(\d+(?:\.\d+)?)\s*([克g])$`)
)

// ParseHerbs splits an ingredient list such as "柴胡10g，当归10g" into herbs.
// Tokens without a trailing dosage are kept with dosage 0 and the default
// unit. The result is never nil.
func ParseHerbs(text string) []model.Herb {
	return lo.FilterMap(herbSeparator.Split(text, -1), func(token string, _ int) (model.Herb, bool) {
		token = strings.TrimSpace(token)
		token = strings.TrimLeft(token, "-*•· \t")
		token = strings.TrimRight(token, "。. \t")
		if token == "" {
			return model.Herb{}, false
		}
		return parseHerbToken(token), true
	})
}

func parseHerbToken(token string) model.Herb {
	m := herbDosage.FindStringSubmatch(token)
	if m == nil {
		return model.Herb{Name: token, Unit: model.DefaultHerbUnit}
	}
	dosage, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return model.Herb{Name: token, Unit: model.DefaultHerbUnit}
	}
	return model.Herb{Name: strings.TrimSpace(m[1]), Dosage: dosage, Unit: m[3]}
}
