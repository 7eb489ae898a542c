package transport

import (
	"strings"
	"time"

	"github.com/chrisdefazio/adtranfirmwareupgrader/schema"
)

// Execute writes the command and collects output until the stream has been
// quiet for the quiet window or total elapsed time exceeds the ceiling.
// Quiescence is the only completion signal available: no sentinel, no
// length header. Interactive commands want short windows; upgrade triggers
// want long ceilings, so both are parameters at every call site.
//
// An empty command skips the write and only collects, which is how banners
// and unsolicited prompts are read. A closed session yields an empty result
// rather than an error; callers racing teardown treat that as benign.
func (s *shell) Execute(command string, quiet, ceiling time.Duration) schema.CommandResult {
	if s == nil || !s.open() {
		return schema.CommandResult{Command: command}
	}
	start := time.Now()

	// Subscribing per call discards anything that arrived between commands:
	// stale banner and prompt leftovers fan out to nobody.
	events := make(chan schema.OutputEvent, 64)
	id := s.publisher.Subscribe(events)
	defer s.publisher.Unsubscribe(id)

	if command != "" {
		log.Debug("Writing command: ", command)
		if _, err := s.stdin.Write([]byte(command + "\n")); err != nil {
			log.Warningf("Write failed, channel presumed dead: %v", err)
			return schema.CommandResult{Command: command, Duration: time.Since(start)}
		}
	}

	// The device echoes asynchronously; give it a moment before the first
	// read so the quiet window doesn't trip on silence before any output.
	time.Sleep(writeSettle)

	var out strings.Builder
	remaining := ceiling - time.Since(start)
	if remaining <= 0 {
		return schema.CommandResult{Command: command, Output: out.String(), Duration: time.Since(start)}
	}
	ceilingTimer := time.NewTimer(remaining)
	defer ceilingTimer.Stop()
	quietTimer := time.NewTimer(quiet)
	defer quietTimer.Stop()

	for {
		select {
		case e := <-events:
			if e.Data != "" {
				out.WriteString(e.Data)
				if !quietTimer.Stop() {
					select {
					case <-quietTimer.C:
					default:
					}
				}
				quietTimer.Reset(quiet)
			}
		case <-quietTimer.C:
			return schema.CommandResult{Command: command, Output: out.String(), Duration: time.Since(start)}
		case <-ceilingTimer.C:
			log.Debugf("Output ceiling of %v reached for %q.", ceiling, command)
			return schema.CommandResult{Command: command, Output: out.String(), Duration: time.Since(start)}
		}
	}
}

// Watch streams chunks to done until it reports completion or the ceiling
// expires, returning the accumulated transcript. The judgement of what
// completion looks like belongs to the caller; the channel only frames.
func (s *shell) Watch(ceiling time.Duration, done func(chunk string) bool) string {
	if s == nil || !s.open() {
		return ""
	}
	events := make(chan schema.OutputEvent, 64)
	id := s.publisher.Subscribe(events)
	defer s.publisher.Unsubscribe(id)

	var out strings.Builder
	ceilingTimer := time.NewTimer(ceiling)
	defer ceilingTimer.Stop()
	for {
		select {
		case e := <-events:
			out.WriteString(e.Data)
			if done(e.Data) {
				return out.String()
			}
		case <-ceilingTimer.C:
			return out.String()
		}
	}
}
