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

	"github.com/AleutianAI/pysentinel/services/pysentinel/scan"
)

type jsonReport struct {
	Summary Summary           `json:"summary"`
	Files   []scan.FileResult `json:"files"`
}

// WriteJSON writes res and its summary as indented JSON.
func WriteJSON(w io.Writer, res *scan.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonReport{Summary: Summarize(res), Files: res.Files}); err != nil {
		return fmt.Errorf("encode json report: %w", err)
	}
	return nil
}
