package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xhad/stager/internal/models"
	"github.com/xhad/stager/pkg/limits"
	"github.com/xhad/stager/pkg/processor"
	"github.com/xhad/stager/pkg/stages"
	"github.com/xhad/stager/pkg/store"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is every frame the server sends.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// RunRequest asks for a staged summary of Content, or of the page at URL.
type RunRequest struct {
	Type    string           `json:"type"`
	Content string           `json:"content"`
	URL     string           `json:"url,omitempty"`
	Title   string           `json:"title,omitempty"`
	Limits  limits.Overrides `json:"limits"`
}

type Progress struct {
	Completed int          `json:"completed"`
	Total     int          `json:"total"`
	Stage     stages.Stage `json:"stage"`
}

type RunResult struct {
	RunID           string                  `json:"run_id,omitempty"`
	Validation      limits.ValidationResult `json:"validation"`
	Stages          []stages.Stage          `json:"stages"`
	TotalUnits      int                     `json:"total_units"`
	IsComplete      bool                    `json:"is_complete"`
	CombinedResults []string                `json:"combined_results"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger *zap.Logger
}

func (c *wsConn) send(msgType, content string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(Message{Type: msgType, Content: content, Data: data}); err != nil {
		c.logger.Debug("error sending message", zap.String("type", msgType), zap.Error(err))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsConn{conn: conn, logger: s.logger}
	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("error reading message", zap.Error(err))
			}
			return
		}

		var req RunRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.send("error", fmt.Sprintf("invalid message: %v", err), nil)
			continue
		}

		switch req.Type {
		case "run":
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.run(ctx, c, req)
			}()
		case "ping":
			c.send("pong", "", nil)
		default:
			c.send("error", fmt.Sprintf("unknown message type %q", req.Type), nil)
		}
	}
}

// run chunks the requested document, drives its stages through the
// summarizer and streams progress as each stage starts and settles.
func (s *Server) run(ctx context.Context, c *wsConn, req RunRequest) {
	if s.config.Summarizer == nil {
		c.send("error", "no summarizer configured", nil)
		return
	}

	l, err := s.resolveLimits(req.Limits)
	if err != nil {
		c.send("error", err.Error(), nil)
		return
	}

	doc, err := s.document(ctx, req)
	if err != nil {
		c.send("error", err.Error(), nil)
		return
	}

	p, err := processor.NewWithConfig(processor.ProcessorConfig{Limits: l})
	if err != nil {
		c.send("error", err.Error(), nil)
		return
	}
	staged, err := p.Process([]models.Document{doc})
	if err != nil {
		c.send("error", err.Error(), nil)
		return
	}
	sd := staged[0]
	c.send("status", fmt.Sprintf("Split %d units into %d stages", sd.Validation.UnitCount, len(sd.Stages)), sd.Validation)

	result := stages.Run(ctx, sd.Stages, s.config.Summarizer.StageProcessor(), stages.ExecutorConfig{
		OnProgress: func(completed, total int, current *stages.Stage) {
			c.send("progress", "", Progress{Completed: completed, Total: total, Stage: *current})
		},
		StageTimeout: s.config.StageTimeout,
		Logger:       s.logger,
	})

	out := RunResult{
		Validation:      sd.Validation,
		Stages:          result.Stages,
		TotalUnits:      result.TotalUnits,
		IsComplete:      result.IsComplete,
		CombinedResults: result.CombinedResults,
	}

	if s.config.Store != nil {
		runID, err := s.save(ctx, sd.Document, result)
		if err != nil {
			s.logger.Error("failed to save run", zap.String("document_id", doc.ID), zap.Error(err))
			c.send("error", fmt.Sprintf("failed to save run: %v", err), nil)
		}
		out.RunID = runID
	}

	c.send("result", "", out)
}

func (s *Server) document(ctx context.Context, req RunRequest) (models.Document, error) {
	if req.URL == "" {
		return models.Document{ID: uuid.NewString(), Title: req.Title, Content: req.Content}, nil
	}
	if s.config.Fetcher == nil {
		return models.Document{}, errors.New("no fetcher configured")
	}
	doc, err := s.config.Fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to fetch %s: %w", req.URL, err)
	}
	return doc, nil
}

func (s *Server) save(ctx context.Context, doc models.Document, result stages.StagedResult[string]) (string, error) {
	run := store.RunFromResult(doc, result)
	if s.config.Embedder != nil {
		vectors := stages.Run(ctx, result.Stages, s.config.Embedder.StageProcessor(), stages.ExecutorConfig{
			StageTimeout: s.config.StageTimeout,
			Logger:       s.logger,
		})
		store.AttachEmbeddings(&run, vectors)
	}
	if err := s.config.Store.SaveRun(ctx, &run); err != nil {
		return "", err
	}
	return run.ID, nil
}
