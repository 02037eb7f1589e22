// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"bytes"
	"regexp"
	"strings"
	"sync"

	"github.com/imagewright/imagewright/pkg/recipe"
)

// Step header formats:
//
//	Step 4/9 : RUN apt-get update ...        (docker classic builder)
//	#7 [3/5] RUN apt-get update ...          (BuildKit, plain progress)
//	STEP 4/9: RUN apt-get update ...         (podman)
var stepLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^Step \d+/\d+ : (.+)$`),
	regexp.MustCompile(`^#\d+ \[(?:[^\]]+ )?\d+/\d+\] (.+)$`),
	regexp.MustCompile(`^STEP \d+/\d+: (.+)$`),
}

// progressWriter scans engine output for step headers. Seeing step i start
// means steps before i have finished, so the tracker advances through every
// stage they complete. Engine output may arrive on stdout and stderr at once.
type progressWriter struct {
	mu      sync.Mutex
	tracker *Tracker
	steps   []Step
	cursor  int
	buf     []byte
	err     error
}

func newProgressWriter(tracker *Tracker, steps []Step) *progressWriter {
	return &progressWriter{tracker: tracker, steps: steps}
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.line(strings.TrimSpace(string(w.buf[:i])))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Err returns the first tracker error observed.
func (w *progressWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *progressWriter) line(line string) {
	if w.err != nil {
		return
	}
	for _, re := range stepLinePatterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		idx := w.match(m[1])
		if idx < 0 {
			return
		}
		w.cursor = idx
		if idx > 0 {
			w.err = w.tracker.AdvanceTo(completedStage(w.steps, idx))
		}
		return
	}
}

// match finds the first step at or after the cursor whose instruction
// matches text.
func (w *progressWriter) match(text string) int {
	keyword, body, _ := strings.Cut(text, " ")
	keyword = strings.ToUpper(keyword)
	for i := w.cursor; i < len(w.steps); i++ {
		ins := w.steps[i].Instruction
		if ins.Keyword != keyword {
			continue
		}
		// BuildKit rewrites FROM with the resolved reference.
		if keyword == recipe.KeywordFrom || sameBody(ins.Body, body) {
			return i
		}
	}
	return -1
}

// completedStage is the latest stage whose instructions all precede step idx.
func completedStage(steps []Step, idx int) recipe.Stage {
	current := steps[idx].Instruction.Stage
	prev := steps[idx-1].Instruction.Stage
	if prev == current {
		// Still inside the stage; the one before it is complete.
		for i := idx - 1; i >= 0; i-- {
			if steps[i].Instruction.Stage != current {
				return steps[i].Instruction.Stage
			}
		}
		return recipe.StageBase
	}
	return prev
}

func sameBody(want, got string) bool {
	want = strings.Join(strings.Fields(want), " ")
	got = strings.Join(strings.Fields(got), " ")
	return want == got || strings.HasPrefix(want, got) || strings.HasPrefix(got, want)
}
