package main

import (
	"time"

	"github.com/aktagon/image-harvester/internal/chain"
	"github.com/aktagon/image-harvester/internal/probe"
)

// ArtifactStatus represents the final state of one image in the run
type ArtifactStatus string

const (
	StatusClassified ArtifactStatus = "classified"
	StatusUnresolved ArtifactStatus = "unresolved"
	StatusKept       ArtifactStatus = "kept" // classification disabled
	StatusFailed     ArtifactStatus = "failed"
)

// ArtifactOutcome tracks one image from download to final name
type ArtifactOutcome struct {
	PositionalName string
	FinalName      string
	SourceURL      string
	Size           int64
	Type           string
	Confidence     int
	Strategy       string // classification tier
	Status         ArtifactStatus
	Converted      string // PNG produced from an SVG, if any
	ConvertEngine  string
	Error          error
}

// DegradationKind groups degradations in the summary
type DegradationKind string

const (
	DegradedStrategy  DegradationKind = "strategy"
	RegionRejection   DegradationKind = "region-rejection"
	OracleRejection   DegradationKind = "oracle-rejection"
	UnresolvedImage   DegradationKind = "unresolved"
	ClassifyFailed    DegradationKind = "classify-failed"
	DownloadFailed    DegradationKind = "download-failed"
	ConversionFailed  DegradationKind = "conversion-failed"
	NetworkGate       DegradationKind = "network-gate"
	OracleUnavailable DegradationKind = "oracle-unavailable"
)

// Degradation is anything that made the run less capable than configured
type Degradation struct {
	Kind    DegradationKind
	Subject string // strategy, file or URL
	Detail  string
}

// RunSummary is everything reported at the end of a run
type RunSummary struct {
	TargetURL   string
	OutputDir   string
	Strategy    string // acquisition strategy that succeeded
	ScrollSteps int
	Candidates  int
	Network     *probe.NetworkContext
	Gate        *probe.Decision

	Artifacts    []ArtifactOutcome
	Degradations []Degradation
	Chains       map[string][]chain.Status

	Downloaded int
	Failed     int
	Classified int
	Unresolved int
	Converted  int
	Bytes      int64
	Elapsed    time.Duration
}

func (s *RunSummary) degrade(kind DegradationKind, subject, detail string) {
	s.Degradations = append(s.Degradations, Degradation{Kind: kind, Subject: subject, Detail: detail})
}
