// internal/models/project.go
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ProjectInputs describes a construction project as entered by the user.
type ProjectInputs struct {
	ProjectType    string          `json:"projectType"`
	Location       string          `json:"location"`
	Size           float64         `json:"size"`
	SizeUnit       string          `json:"sizeUnit"`
	Budget         decimal.Decimal `json:"budget"`
	QualityTier    string          `json:"qualityTier"`
	TimelineMonths int             `json:"timelineMonths"`
	Manpower       int             `json:"manpower"`
}

// Fingerprint is a stable hash of the inputs, case- and whitespace-insensitive
// for the free-text fields.
func (p ProjectInputs) Fingerprint() string {
	canonical := strings.Join([]string{
		normalize(p.ProjectType),
		normalize(p.Location),
		decimal.NewFromFloat(p.Size).String(),
		normalize(p.SizeUnit),
		p.Budget.String(),
		normalize(p.QualityTier),
		fmt.Sprint(p.TimelineMonths),
		fmt.Sprint(p.Manpower),
	}, "|")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
