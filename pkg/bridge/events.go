package bridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/vyvo/pixelflow/pkg/jobs"
	"github.com/vyvo/pixelflow/pkg/materialize"
)

const clientBuffer = 32

type frame struct {
	kind string
	data []byte
}

// hub fans job events out to every connected event stream.
type hub struct {
	mu      sync.Mutex
	clients map[string]chan frame
}

func newHub() *hub {
	return &hub{clients: make(map[string]chan frame)}
}

func (h *hub) subscribe() (string, <-chan frame) {
	id := uuid.NewString()
	ch := make(chan frame, clientBuffer)
	h.mu.Lock()
	h.clients[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *hub) unsubscribe(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast never blocks. Slow clients lose progress frames; a done frame
// evicts the oldest queued frame instead.
func (h *hub) broadcast(f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- f:
			continue
		default:
		}
		if f.kind != string(jobs.EventDone) {
			continue
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- f:
		default:
		}
	}
}

type doneView struct {
	Job     *jobs.Job                     `json:"job,omitempty"`
	Success bool                          `json:"success"`
	Message string                        `json:"message,omitempty"`
	Record  *materialize.GenerationRecord `json:"record,omitempty"`
}

// pump forwards one job's events to the hub until the job is done.
func (s *Server) pump(sub *jobs.Subscription) {
	for ev := range sub.Events() {
		var payload any
		switch ev.Kind {
		case jobs.EventProgress:
			payload = map[string]int{"progress": ev.Progress}
		case jobs.EventStatus:
			payload = map[string]string{"message": s.policy.Sanitize(ev.Message)}
		case jobs.EventDone:
			payload = s.doneView(ev)
		default:
			continue
		}
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error().Err(err).Str("kind", string(ev.Kind)).Msg("encode event")
			continue
		}
		s.hub.broadcast(frame{kind: string(ev.Kind), data: data})
	}
}

func (s *Server) doneView(ev jobs.Event) doneView {
	view := doneView{Success: ev.Err == nil}
	if ev.Job != nil {
		job := s.sanitizeJob(*ev.Job)
		view.Job = &job
	}
	if last, ok := s.session.Last(); ok && (view.Job == nil || last.Job.ID == view.Job.ID) {
		view.Message = s.policy.Sanitize(last.Message)
		view.Record = last.Record
	}
	return view
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming unsupported")
		return
	}

	id, frames := s.hub.subscribe()
	defer s.hub.unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	send := func(f frame) error {
		if _, err := fmt.Fprintf(bw, "event: %s\ndata: %s\n\n", f.kind, f.data); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	snapshot := map[string]any{"client_id": id, "active": false}
	if job, busy := s.session.Active(); busy {
		snapshot["active"] = true
		snapshot["job"] = s.sanitizeJob(job)
	}
	data, _ := json.Marshal(snapshot)
	if err := send(frame{kind: "snapshot", data: data}); err != nil {
		return
	}

	log := s.logger.With().Str("client_id", id).Logger()
	log.Debug().Msg("event stream opened")
	for {
		select {
		case <-r.Context().Done():
			log.Debug().Msg("event stream closed")
			return
		case f := <-frames:
			if err := send(f); err != nil {
				log.Debug().Err(err).Msg("event stream write failed")
				return
			}
		}
	}
}
