package prompt

import "strings"

// Output labels requested from the model. The free-text parser stops each
// capture at the next of these, so the two lists have to stay in step.
var (
	DiagnosisLabels = []string{
		"辩证分析", "治疗原则", "诊断结果", "医嘱建议", "注意事项", "预后评估",
	}
	PrescriptionLabels = []string{
		"方剂名称", "药物组成", "用法用量", "煎服方法", "加减", "禁忌",
	}
)

const systemIntro = `你是一位经验丰富的中医专家，擅长通过四诊（望、闻、问、切）进行诊断。
请根据提供的患者信息进行专业的中医诊断分析。

请严格按以下标签依次输出，每个标签单独起行，标签后使用中文冒号：
`

const systemOutro = `
药物组成请写成"药名剂量g"并用中文逗号分隔，例如：柴胡10g，当归10g，白芍15g。
请确保诊断基于中医理论，语言专业准确。`

// SystemInstruction returns the system message sent with every diagnosis.
func SystemInstruction() string {
	var b strings.Builder
	b.WriteString(systemIntro)
	for _, l := range DiagnosisLabels {
		b.WriteString(l + "：\n")
	}
	for _, l := range PrescriptionLabels {
		b.WriteString(l + "：\n")
	}
	b.WriteString(systemOutro)
	return b.String()
}
