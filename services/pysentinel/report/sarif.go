// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
	"github.com/AleutianAI/pysentinel/services/pysentinel/scan"
)

// SARIF v2.1.0 subset understood by GitHub code scanning.

const (
	sarifVersion = "2.1.0"
	sarifSchema  = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json"
	toolName     = "pysentinel"
	toolURI      = "https://github.com/AleutianAI/pysentinel"
)

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool        sarifTool         `json:"tool"`
	Results     []sarifResult     `json:"results"`
	Invocations []sarifInvocation `json:"invocations,omitempty"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	InformationURI string      `json:"informationUri"`
	Version        string      `json:"version,omitempty"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	ShortDescription sarifMessage       `json:"shortDescription"`
	DefaultConfig    sarifDefaultConfig `json:"defaultConfiguration"`
}

type sarifDefaultConfig struct {
	Level string `json:"level"`
}

type sarifResult struct {
	RuleID     string          `json:"ruleId"`
	RuleIndex  int             `json:"ruleIndex"`
	Level      string          `json:"level"`
	Message    sarifMessage    `json:"message"`
	Locations  []sarifLocation `json:"locations"`
	Properties sarifProperties `json:"properties"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           sarifRegion           `json:"region"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine   int           `json:"startLine"`
	StartColumn int           `json:"startColumn"`
	Snippet     *sarifMessage `json:"snippet,omitempty"`
}

type sarifProperties struct {
	Severity string `json:"severity"`
	Fix      string `json:"fix,omitempty"`
}

type sarifInvocation struct {
	ExecutionSuccessful bool                `json:"executionSuccessful"`
	Notifications       []sarifNotification `json:"toolExecutionNotifications,omitempty"`
}

type sarifNotification struct {
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations,omitempty"`
}

// WriteSARIF writes res as a SARIF 2.1.0 log. Every catalog check is listed
// as a rule; files that failed to scan become tool notifications.
func WriteSARIF(w io.Writer, res *scan.Result, version string) error {
	b, err := json.MarshalIndent(buildSARIF(res, version), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sarif report: %w", err)
	}
	b = append(b, '\n')
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write sarif report: %w", err)
	}
	return nil
}

func buildSARIF(res *scan.Result, version string) sarifLog {
	rules := make([]sarifRule, 0, len(safety.Catalog))
	ruleIndex := make(map[safety.CheckID]int, len(safety.Catalog))
	for i, c := range safety.Catalog {
		ruleIndex[c.ID] = i
		rules = append(rules, sarifRule{
			ID:               string(c.ID),
			Name:             c.Name,
			ShortDescription: sarifMessage{Text: c.Description},
			DefaultConfig:    sarifDefaultConfig{Level: sarifLevel(c.Severity)},
		})
	}

	results := make([]sarifResult, 0)
	var notes []sarifNotification
	for _, file := range res.Files {
		uri := filepath.ToSlash(file.Path)
		if file.Error != "" {
			notes = append(notes, sarifNotification{
				Level:     "error",
				Message:   sarifMessage{Text: file.Error},
				Locations: []sarifLocation{{PhysicalLocation: sarifPhysicalLocation{ArtifactLocation: sarifArtifactLocation{URI: uri}}}},
			})
		}
		for _, f := range file.Findings {
			idx, ok := ruleIndex[f.Check]
			if !ok {
				idx = -1
			}
			region := sarifRegion{StartLine: f.Position.Line, StartColumn: f.Position.Column}
			if f.Snippet != "" {
				region.Snippet = &sarifMessage{Text: f.Snippet}
			}
			results = append(results, sarifResult{
				RuleID:    string(f.Check),
				RuleIndex: idx,
				Level:     sarifLevel(f.Severity),
				Message:   sarifMessage{Text: f.Message},
				Locations: []sarifLocation{{PhysicalLocation: sarifPhysicalLocation{
					ArtifactLocation: sarifArtifactLocation{URI: uri},
					Region:           region,
				}}},
				Properties: sarifProperties{Severity: string(f.Severity), Fix: f.FixName},
			})
		}
	}

	run := sarifRun{
		Tool: sarifTool{Driver: sarifDriver{
			Name:           toolName,
			InformationURI: toolURI,
			Version:        version,
			Rules:          rules,
		}},
		Results: results,
	}
	if len(notes) > 0 {
		run.Invocations = []sarifInvocation{{ExecutionSuccessful: true, Notifications: notes}}
	}
	return sarifLog{Version: sarifVersion, Schema: sarifSchema, Runs: []sarifRun{run}}
}

func sarifLevel(sev safety.Severity) string {
	switch sev {
	case safety.SeverityCritical, safety.SeverityHigh:
		return "error"
	case safety.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}
