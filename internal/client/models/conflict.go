package models

import "time"

// ConflictChoice records how a conflict was settled.
type ConflictChoice string

const (
	ChoiceLocal  ConflictChoice = "local"
	ChoiceRemote ConflictChoice = "remote"
	ChoiceMerged ConflictChoice = "merged"
)

// FieldConflict is one field on which both sides disagreed during a merge.
type FieldConflict struct {
	Field        string `json:"field"`
	Winner       string `json:"winner"`
	WinningValue any    `json:"winningValue"`
	LosingValue  any    `json:"losingValue"`
}

// Conflict is a detected divergence between the local and remote copy of
// the same record.
type Conflict struct {
	ID             string          `json:"id"`
	Key            string          `json:"key"`
	UUID           string          `json:"uuid"`
	Local          *Record         `json:"local"`
	Remote         *Record         `json:"remote"`
	Reason         string          `json:"reason"`
	FieldConflicts []FieldConflict `json:"fieldConflicts,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	Resolved       bool            `json:"resolved"`
	Choice         ConflictChoice  `json:"choice,omitempty"`
	ResolvedAt     *time.Time      `json:"resolvedAt,omitempty"`
}
