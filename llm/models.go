package llm

import "strings"

// 不支持 temperature 参数的推理模型（按子串匹配部署名）。
var noTemperatureModels = []string{
	"o1",
	"o1-mini",
	"o3",
	"o3-mini",
	"o3-pro",
	"o4-mini",
	"gpt-5",
	"gpt-5-mini",
	"gpt-5-nano",
	"deepseek-r1",
}

// SupportsTemperature reports whether model accepts a temperature parameter.
// Azure deployment names often wrap the model name, so matching is by substring.
func SupportsTemperature(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	if m == "" {
		return true
	}
	for _, name := range noTemperatureModels {
		if strings.Contains(m, name) {
			return false
		}
	}
	return true
}
