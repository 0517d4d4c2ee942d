// Package prompt renders intake records into the text sent to the model.
package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ariebrainware/tcm-diagnosis/model"
)

type line struct {
	label string
	value string
}

type section struct {
	heading string
	level   int
	lines   []line
	body    string
}

func (s section) empty() bool {
	if strings.TrimSpace(s.body) != "" {
		return false
	}
	for _, l := range s.lines {
		if strings.TrimSpace(l.value) != "" {
			return false
		}
	}
	return true
}

func (s section) write(b *strings.Builder) {
	fmt.Fprintf(b, "%s %s\n", strings.Repeat("#", s.level), s.heading)
	if body := strings.TrimSpace(s.body); body != "" {
		b.WriteString(body)
		b.WriteString("\n")
	}
	for _, l := range s.lines {
		if v := strings.TrimSpace(l.value); v != "" {
			fmt.Fprintf(b, "- %s：%s\n", l.label, v)
		}
	}
}

func withSuffix(v float64, suffix string) string {
	if v <= 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64) + suffix
}

// Format renders rec as the user message of a diagnosis request.
//
// Sections and lines whose fields are empty are left out entirely; the
// "中医四诊" heading is only written when at least one of its groups is.
func Format(rec model.IntakeRecord) string {
	age := ""
	if rec.Age > 0 {
		age = strconv.Itoa(rec.Age) + "岁"
	}

	head := []section{
		{heading: "患者基本信息", level: 2, lines: []line{
			{"姓名", rec.PatientName},
			{"年龄", age},
			{"性别", rec.Gender},
			{"身高", withSuffix(rec.Height, "cm")},
			{"体重", withSuffix(rec.Weight, "kg")},
		}},
		{heading: "主诉", level: 2, body: rec.ChiefComplaint},
		{heading: "现病史", level: 2, body: rec.PresentIllness},
		{heading: "既往史", level: 2, body: rec.PastHistory},
		{heading: "家族史", level: 2, body: rec.FamilyHistory},
	}

	fourMethods := []section{
		{heading: "望诊", level: 3, lines: []line{
			{"面色", rec.Complexion},
			{"精神状态", rec.Spirit},
			{"形体", rec.BodyShape},
		}},
		{heading: "舌诊", level: 3, lines: []line{
			{"舌质", rec.TongueBody},
			{"舌苔", rec.TongueCoating},
		}},
		{heading: "脉诊", level: 3, lines: []line{
			{"脉象", rec.Pulse},
		}},
		{heading: "闻诊", level: 3, lines: []line{
			{"声音", rec.Voice},
			{"呼吸", rec.Breath},
		}},
		{heading: "问诊", level: 3, lines: []line{
			{"睡眠", rec.Sleep},
			{"食欲", rec.Appetite},
			{"大便", rec.Bowel},
			{"小便", rec.Urine},
		}},
	}

	var b strings.Builder
	for _, s := range head {
		if s.empty() {
			continue
		}
		s.write(&b)
		b.WriteString("\n")
	}

	wroteHeading := false
	for _, s := range fourMethods {
		if s.empty() {
			continue
		}
		if !wroteHeading {
			b.WriteString("## 中医四诊\n")
			wroteHeading = true
		}
		s.write(&b)
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}
