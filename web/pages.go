package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/ashureev/copilot-bridge/internal/chat"
	"github.com/ashureev/copilot-bridge/internal/identity"
	"github.com/go-chi/chi/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// threadIDPattern accepts nanoid and UUID thread ids.
var threadIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// PagesOptions configures the chat pages.
type PagesOptions struct {
	Sessions *chat.Manager
	// OpenAIAPIKey must be set for turns to be submitted.
	OpenAIAPIKey string
	Logger       *slog.Logger
}

// Pages serves the HTML chat surface.
type Pages struct {
	sessions     *chat.Manager
	openAIAPIKey string
	tmpl         *template.Template
	logger       *slog.Logger
}

// NewPages creates the chat pages.
func NewPages(opts PagesOptions) (*Pages, error) {
	if opts.Sessions == nil {
		return nil, errors.New("web: sessions are required")
	}
	t, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pages{
		sessions:     opts.Sessions,
		openAIAPIKey: opts.OpenAIAPIKey,
		tmpl:         t,
		logger:       logger,
	}, nil
}

// RegisterRoutes registers the chat page routes.
func (p *Pages) RegisterRoutes(r chi.Router) {
	r.Get("/", p.Index)
	r.Handle("/static/*", StaticHandler())
	r.Post("/chat", p.NewThread)
	r.Route("/chat/{thread}", func(r chi.Router) {
		r.Get("/", p.Page)
		r.Get("/view", p.View)
		r.Get("/research/{kind}/{id}", p.Research)
		r.Post("/input", p.Input)
		r.Post("/submit", p.Submit)
		r.Post("/stop", p.Stop)
	})
}

// Index renders the landing page.
func (p *Pages) Index(w http.ResponseWriter, _ *http.Request) {
	p.render(w, "index.html", nil)
}

// NewThread creates a thread id and redirects to its page.
func (p *Pages) NewThread(w http.ResponseWriter, r *http.Request) {
	id, err := gonanoid.New()
	if err != nil {
		p.logger.Error("Failed to generate thread id", "error", err)
		http.Error(w, "failed to create chat", http.StatusInternalServerError)
		return
	}
	if _, err := p.sessions.Create(r.Context(), id, identity.UserIDFromContext(r.Context())); err != nil {
		p.logger.Error("Failed to create chat session", "thread_id", id, "error", err)
		http.Error(w, "failed to create chat", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/chat/"+id, http.StatusSeeOther)
}

// session opens the caller's chat for the thread in the URL. Chats that
// were never created, or belong to someone else, are 404.
func (p *Pages) session(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	threadID := chi.URLParam(r, "thread")
	if !threadIDPattern.MatchString(threadID) {
		http.Error(w, "invalid thread id", http.StatusBadRequest)
		return nil, false
	}
	s, err := p.sessions.Open(r.Context(), threadID, identity.UserIDFromContext(r.Context()))
	if errors.Is(err, chat.ErrNotFound) {
		http.Error(w, "chat not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		p.logger.Error("Failed to open chat session", "thread_id", threadID, "error", err)
		http.Error(w, "failed to open chat", http.StatusInternalServerError)
		return nil, false
	}
	return s, true
}

type pageData struct {
	chat.View
	Detail *chat.ResearchDetail
}

// Page renders the chat page.
func (p *Pages) Page(w http.ResponseWriter, r *http.Request) {
	s, ok := p.session(w, r)
	if !ok {
		return
	}
	p.render(w, "chat.html", pageData{View: s.View()})
}

// View returns the chat view as JSON.
func (p *Pages) View(w http.ResponseWriter, r *http.Request) {
	s, ok := p.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// Research renders the research detail modal, or JSON when asked for.
func (p *Pages) Research(w http.ResponseWriter, r *http.Request) {
	s, ok := p.session(w, r)
	if !ok {
		return
	}
	d, found := s.Detail(chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
	if !found {
		http.Error(w, "research result not found", http.StatusNotFound)
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, d)
		return
	}
	p.render(w, "chat.html", pageData{View: s.View(), Detail: &d})
}

// Input replaces the input buffer.
func (p *Pages) Input(w http.ResponseWriter, r *http.Request) {
	s, ok := p.session(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	s.SetInput(r.PostForm.Get("input"))
	p.done(w, r, s, nil)
}

// Submit sends the input buffer. A form "input" value replaces the buffer
// first.
func (p *Pages) Submit(w http.ResponseWriter, r *http.Request) {
	s, ok := p.session(w, r)
	if !ok {
		return
	}
	if p.openAIAPIKey == "" {
		p.logger.Error("OPENAI_API_KEY is not set; add it to .env.local or the server environment and restart")
		if wantsJSON(r) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "OPENAI_API_KEY is not configured on the server"})
			return
		}
		http.Error(w, "OPENAI_API_KEY is not configured on the server", http.StatusInternalServerError)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if _, set := r.PostForm["input"]; set {
		s.SetInput(r.PostForm.Get("input"))
	}
	sent := s.Submit(r.Context())
	p.done(w, r, s, map[string]any{"submitted": sent})
}

// Stop cancels the in-flight turn.
func (p *Pages) Stop(w http.ResponseWriter, r *http.Request) {
	s, ok := p.session(w, r)
	if !ok {
		return
	}
	s.Stop()
	p.done(w, r, s, nil)
}

// done answers a form post: JSON clients get the view, browsers are sent
// back to the page.
func (p *Pages) done(w http.ResponseWriter, r *http.Request, s *chat.Session, extra map[string]any) {
	if !wantsJSON(r) {
		http.Redirect(w, r, "/chat/"+chi.URLParam(r, "thread"), http.StatusSeeOther)
		return
	}
	body := map[string]any{"view": s.View()}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("web: failed to encode response", "error", err)
	}
}

// render buffers the page so a template error can still produce a 500.
func (p *Pages) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		p.logger.Error("Failed to render template", "template", name, "error", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
