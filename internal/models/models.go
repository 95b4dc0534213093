package models

import (
	"fmt"
	"strings"
)

type RequestStatus string

// StatusOpen is the only status ever written; resolution removes the row.
const StatusOpen RequestStatus = "ABERTO"

// Volume is the estimated amount of boxes reported for a sector
type Volume string

const (
	VolumeUpTo5  Volume = "≤5"
	VolumeUpTo10 Volume = "≤10"
	VolumeOver10 Volume = ">10"
)

var volumeLabels = map[Volume]string{
	VolumeUpTo5:  "Até 5 (Skate)",
	VolumeUpTo10: "Até 10 (1 carro)",
	VolumeOver10: "+ de 10 (Várias viagens)",
}

// Volumes lists the accepted estimates in display order
func Volumes() []Volume {
	return []Volume{VolumeUpTo5, VolumeUpTo10, VolumeOver10}
}

func (v Volume) Valid() bool {
	_, ok := volumeLabels[v]
	return ok
}

// Label returns the text shown to staff and written to the pending table
func (v Volume) Label() string {
	if label, ok := volumeLabels[v]; ok {
		return label
	}
	return string(v)
}

// ParseVolume accepts the code, the label, or the shorthands 5, 10 and +10
func ParseVolume(s string) (Volume, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "5", "<=5", "ate5", "até5":
		return VolumeUpTo5, nil
	case "10", "<=10", "ate10", "até10":
		return VolumeUpTo10, nil
	case "+10", ">10", "mais10", "+de10":
		return VolumeOver10, nil
	}
	for v, label := range volumeLabels {
		if s == string(v) || strings.EqualFold(s, label) {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown volume %q", s)
}

// PendingRequest is an open report of accumulated boxes awaiting pickup
type PendingRequest struct {
	ID         string        `json:"id"`
	Sector     string        `json:"setor"`
	Volume     Volume        `json:"volume"`
	ReportedAt string        `json:"hora"` // local time of day, "15:04"
	Status     RequestStatus `json:"status"`
}

// CollectionRecord is one entry of the append-only pickup history
type CollectionRecord struct {
	CompletedAt string `json:"data_hora"` // "02/01/2006 15:04"
	Sector      string `json:"setor"`
	Quantity    int    `json:"quantidade"`
	Badge       string `json:"cracha"`
	SiteCleared *bool  `json:"local_limpo,omitempty"`
}

// Outcome tells the caller what a collection did to the pending table
type Outcome string

const (
	OutcomeResolved         Outcome = "resolved"
	OutcomeLoggedOnly       Outcome = "logged_only"
	OutcomeLoggedNotCleared Outcome = "logged_not_cleared"
)

// NormalizeSector trims and upper-cases a sector typed or linked by staff
func NormalizeSector(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

const (
	ReportedAtLayout  = "15:04"
	CompletedAtLayout = "02/01/2006 15:04"
)
