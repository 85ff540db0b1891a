package ai

import (
	"fmt"
	"strings"

	"github.com/sprintly/backend/pkg/common"
)

// ClassificationResponse is the structured output requested from chat
// models. Every field is required so strict schema modes accept it.
type ClassificationResponse struct {
	Role             string   `json:"role" jsonschema:"enum=founder,enum=investor,enum=unknown"`
	Confidence       float64  `json:"confidence"`
	Rationale        string   `json:"rationale"`
	SectorFocus      []string `json:"sector_focus"`
	StageFocus       []string `json:"stage_focus"`
	CheckSizeMin     int64    `json:"check_size_min"`
	CheckSizeMax     int64    `json:"check_size_max"`
	InvestmentThesis string   `json:"investment_thesis"`
	Location         string   `json:"location"`
	Tags             []string `json:"tags"`
}

// BuildClassificationPrompt renders the user prompt for in.
func BuildClassificationPrompt(in ClassifyInput) string {
	return fmt.Sprintf(ClassificationPrompt, in.Name, in.Company, in.Position)
}

// Enrichment converts the model output into the stored form.
func (r ClassificationResponse) Enrichment() common.Enrichment {
	e := common.Enrichment{
		Role:             common.ParseRole(r.Role),
		Confidence:       min(max(r.Confidence, 0), 1),
		Rationale:        strings.TrimSpace(r.Rationale),
		SectorFocus:      cleanList(r.SectorFocus),
		StageFocus:       cleanList(r.StageFocus),
		Location:         strings.TrimSpace(r.Location),
		Tags:             cleanList(r.Tags),
		InvestmentThesis: strings.TrimSpace(r.InvestmentThesis),
	}
	if r.CheckSizeMin > 0 {
		v := r.CheckSizeMin
		e.CheckSizeMin = &v
	}
	if r.CheckSizeMax > 0 {
		v := r.CheckSizeMax
		e.CheckSizeMax = &v
	}
	if e.CheckSizeMin != nil && e.CheckSizeMax != nil && *e.CheckSizeMin > *e.CheckSizeMax {
		e.CheckSizeMin, e.CheckSizeMax = e.CheckSizeMax, e.CheckSizeMin
	}
	return e
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
