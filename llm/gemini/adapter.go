package gemini

import (
	"github.com/aschepis/backscratcher/relay/llm"
	"google.golang.org/genai"
)

// ToGenaiContents converts request turns to genai contents. Roles map directly
// since both sides use user/model.
func ToGenaiContents(turns []llm.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		role := genai.RoleUser
		if turn.Role == llm.RoleModel {
			role = genai.RoleModel
		}
		content := &genai.Content{Role: role}
		for _, p := range turn.Parts {
			switch {
			case p.FunctionCall != nil:
				content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   p.FunctionCall.ID,
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				}})
			case p.FunctionResponse != nil:
				content.Parts = append(content.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       p.FunctionResponse.ID,
					Name:     p.FunctionResponse.Name,
					Response: p.FunctionResponse.Response,
				}})
			case p.Text != "":
				content.Parts = append(content.Parts, &genai.Part{Text: p.Text})
			}
		}
		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}
	return contents
}

// ToGenerateConfig maps sampling parameters onto a genai generation config.
func ToGenerateConfig(cfg llm.SamplingConfig) *genai.GenerateContentConfig {
	out := &genai.GenerateContentConfig{}
	if cfg.SystemInstruction != "" {
		out.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.SystemInstruction}}}
	}
	if cfg.Temperature != nil {
		t := float32(*cfg.Temperature)
		out.Temperature = &t
	}
	if cfg.TopP != nil {
		p := float32(*cfg.TopP)
		out.TopP = &p
	}
	if cfg.MaxOutputTokens > 0 {
		out.MaxOutputTokens = int32(cfg.MaxOutputTokens)
	}
	return out
}

// generationConfig is the wire form of sampling parameters on the streaming endpoint.
type generationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	MaxOutputTokens int32    `json:"maxOutputTokens,omitempty"`
}

// streamBody is the request body of streamGenerateContent.
type streamBody struct {
	Contents          []*genai.Content  `json:"contents"`
	SystemInstruction *genai.Content    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

func newStreamBody(req *llm.Request) streamBody {
	cfg := ToGenerateConfig(req.Config)
	return streamBody{
		Contents:          ToGenaiContents(req.Turns),
		SystemInstruction: cfg.SystemInstruction,
		GenerationConfig: &generationConfig{
			Temperature:     cfg.Temperature,
			TopP:            cfg.TopP,
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
	}
}
