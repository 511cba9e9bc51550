// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf

import (
	"log/slog"

	"github.com/joeycumines/logiface"
	logifaceslog "github.com/joeycumines/logiface-slog"
)

// diagLogger is the structured logger used for diagnostic-only reporting —
// leak warnings. It never sits on the hot
// allocation path (spec §10.3): Allocate/Free/Reallocate never call it
// directly, only leakTracker.report does, from a finalizer goroutine.
type diagLogger = *logiface.Logger[*logifaceslog.Event]

// newDiagLogger builds a diagLogger writing to h. A nil h yields a logger
// writing to slog.Default's handler.
func newDiagLogger(h slog.Handler) diagLogger {
	if h == nil {
		h = slog.Default().Handler()
	}
	return logiface.New[*logifaceslog.Event](logifaceslog.NewLogger(h))
}
