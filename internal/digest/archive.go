// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package digest

import (
	"context"
	"path/filepath"
	"time"

	"go.astrophena.name/feedsum/internal/atomicio"
)

// Archive writes each delivered batch to a timestamped JSON file in a
// directory.
type Archive struct {
	Dir string
	Now func() time.Time
}

// Path returns the file a batch delivered at t is written to.
func (a *Archive) Path(t time.Time) string {
	return filepath.Join(a.Dir, "summaries_"+t.Format("20060102_150405")+".json")
}

// Deliver implements [Dispatcher].
func (a *Archive) Deliver(_ context.Context, batch []Summary) error {
	if len(batch) == 0 {
		return nil
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	return atomicio.WriteJSON(a.Path(now()), batch, 0o644)
}
