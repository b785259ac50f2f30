package offlinecache

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/invincit/offline-cache/cache"

	"github.com/go-chi/chi/v5"
)

// maximum size of a control request body
const maxControlBody = 1 << 20

type errorReply struct {
	Error string `json:"error"`
}

type installReply struct {
	State  string           `json:"state"`
	Stored []string         `json:"stored"`
	Failed []populateFailed `json:"failed"`
}

type populateFailed struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

type namespaceReply struct {
	Name string   `json:"name"`
	URLs []string `json:"urls"`
}

type activateReply struct {
	State    string   `json:"state"`
	Deleted  []string `json:"deleted"`
	Retained []string `json:"retained"`
}

// ControlRouter returns the HTTP surface that delivers lifecycle, message,
// push and sync events to the worker. All replies are JSON.
func (w *Worker) ControlRouter() http.Handler {
	r := chi.NewRouter()
	r.Post("/install", w.controlInstall)
	r.Post("/activate", w.controlActivate)
	r.Post("/message", w.controlMessage)
	r.Post("/push", w.controlPush)
	r.Post("/notificationclick", w.controlNotificationClick)
	r.Post("/sync/{tag}", w.controlSync)
	r.Get("/status", w.controlStatus)
	r.Get("/caches/{namespace}", w.controlNamespace)
	return r
}

func (w *Worker) controlInstall(rw http.ResponseWriter, r *http.Request) {
	result := w.Dispatch(r.Context(), InstallEvent{})
	if result.Err != nil {
		w.writeError(rw, result.Err)
		return
	}
	reply := installReply{State: w.State().String(), Stored: result.Populate.Stored(), Failed: []populateFailed{}}
	for _, f := range result.Populate.Failed() {
		reply.Failed = append(reply.Failed, populateFailed{URL: f.URL, Error: f.Err.Error()})
	}
	w.writeJSON(rw, http.StatusOK, reply)
}

func (w *Worker) controlActivate(rw http.ResponseWriter, r *http.Request) {
	result := w.Dispatch(r.Context(), ActivateEvent{})
	if errors.Is(result.Err, ErrNotInstalled) {
		w.writeError(rw, result.Err)
		return
	}
	// activation errors leave the worker active; report what was done
	reply := activateReply{State: w.State().String(), Deleted: []string{}, Retained: []string{}}
	if result.Prune != nil {
		reply.Deleted = append(reply.Deleted, result.Prune.Deleted...)
		reply.Retained = append(reply.Retained, result.Prune.Retained...)
	}
	w.writeJSON(rw, http.StatusOK, reply)
}

func (w *Worker) controlMessage(rw http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(&msg); err != nil {
		w.writeJSON(rw, http.StatusBadRequest, errorReply{Error: "invalid message: " + err.Error()})
		return
	}
	result := w.Dispatch(r.Context(), MessageEvent{Message: msg})
	if result.Err != nil {
		w.writeError(rw, result.Err)
		return
	}
	w.writeJSON(rw, http.StatusOK, result.Reply)
}

func (w *Worker) controlPush(rw http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody))
	if err != nil {
		w.writeJSON(rw, http.StatusBadRequest, errorReply{Error: err.Error()})
		return
	}
	result := w.Dispatch(r.Context(), PushEvent{Data: data})
	if result.Err != nil {
		w.writeError(rw, result.Err)
		return
	}
	w.writeJSON(rw, http.StatusOK, result.Reply)
}

func (w *Worker) controlNotificationClick(rw http.ResponseWriter, r *http.Request) {
	var n Notification
	if err := json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(&n); err != nil && !errors.Is(err, io.EOF) {
		w.writeJSON(rw, http.StatusBadRequest, errorReply{Error: "invalid notification: " + err.Error()})
		return
	}
	result := w.Dispatch(r.Context(), NotificationClickEvent{Notification: n})
	if result.Err != nil {
		w.writeError(rw, result.Err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (w *Worker) controlSync(rw http.ResponseWriter, r *http.Request) {
	result := w.Dispatch(r.Context(), SyncEvent{Tag: chi.URLParam(r, "tag")})
	if result.Err != nil {
		w.writeError(rw, result.Err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (w *Worker) controlStatus(rw http.ResponseWriter, r *http.Request) {
	result := w.Dispatch(r.Context(), MessageEvent{Message: Message{Type: MessageGetCacheStatus}})
	if result.Err != nil {
		w.writeError(rw, result.Err)
		return
	}
	w.writeJSON(rw, http.StatusOK, result.Reply)
}

func (w *Worker) controlNamespace(rw http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "namespace")
	urls, err := w.store.URLs(r.Context(), name)
	if errors.Is(err, cache.ErrNoNamespace) {
		w.writeJSON(rw, http.StatusNotFound, errorReply{Error: err.Error()})
		return
	}
	if err != nil {
		w.writeError(rw, err)
		return
	}
	w.writeJSON(rw, http.StatusOK, namespaceReply{Name: name, URLs: urls})
}

func (w *Worker) writeError(rw http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownMessage):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotInstalled), errors.Is(err, ErrAlreadyInstalled):
		status = http.StatusConflict
	}
	w.writeJSON(rw, status, errorReply{Error: err.Error()})
}

func (w *Worker) writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set("Cache-Control", "no-store")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		w.log.Error().Err(err).Msg("Could not write control reply")
	}
}
