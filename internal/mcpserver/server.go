// Package mcpserver exposes the automodeling engine over the Model Context
// Protocol so agent frontends can launch and monitor runs.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"automodeler/internal/automodel"
	"automodeler/internal/logging"
)

// Server wraps the MCP SDK server and manages modeling sessions.
type Server struct {
	MCPServer *sdkmcp.Server
	Version   string

	mu      sync.Mutex
	session *Session
}

// NewServer creates an MCP server with the modeling tools registered.
func NewServer(version string) *Server {
	s := &Server{Version: version}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "automodeler", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "start_model_run",
		Description: "Start an automodeling run over a visibility dataset. Spawns the run goroutine and returns a run ID.",
	}, s.handleStartModelRun)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_run_status",
		Description: "Get the state and completed iteration count of a modeling run.",
	}, s.handleGetRunStatus)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_run_report",
		Description: "Block until a modeling run finishes and return the accepted model path plus the full run report.",
	}, s.handleGetRunReport)
}

// --- Tool input/output types ---

type startModelRunInput struct {
	Data         string `json:"data" jsonschema:"path to the visibility dataset (source.band.epoch naming)"`
	OutDir       string `json:"out_dir" jsonschema:"directory for fitted models, images and the report"`
	Script       string `json:"script" jsonschema:"path to the difmap wrapper script"`
	ConfigPath   string `json:"config_path,omitempty" jsonschema:"optional YAML config overriding the defaults"`
	CoreElliptic bool   `json:"core_elliptic,omitempty" jsonschema:"start the core as an elliptical gaussian"`
	ComputeCV    bool   `json:"compute_cv,omitempty" jsonschema:"cross-validate each iteration's model"`
	Force        bool   `json:"force,omitempty" jsonschema:"cancel any running session and start fresh"`
}

type startModelRunOutput struct {
	RunID  string `json:"run_id"`
	Source string `json:"source"`
	Status string `json:"status"`
}

type getRunStatusInput struct {
	RunID string `json:"run_id" jsonschema:"run ID from start_model_run"`
}

type getRunStatusOutput struct {
	Status    string `json:"status"`
	Iteration int    `json:"iteration"`
	Error     string `json:"error,omitempty"`
}

type getRunReportInput struct {
	RunID string `json:"run_id" jsonschema:"run ID from start_model_run"`
}

type getRunReportOutput struct {
	Status     string `json:"status"`
	BestModel  string `json:"best_model,omitempty"`
	ReportJSON string `json:"report_json,omitempty"`
	Error      string `json:"error,omitempty"`
}

// --- Handlers ---

func (s *Server) handleStartModelRun(_ context.Context, _ *sdkmcp.CallToolRequest, input startModelRunInput) (*sdkmcp.CallToolResult, startModelRunOutput, error) {
	logger := logging.New("mcp-session")

	cfg := automodel.DefaultConfig()
	if input.ConfigPath != "" {
		loaded, err := automodel.LoadConfig(input.ConfigPath)
		if err != nil {
			return nil, startModelRunOutput{}, err
		}
		cfg = loaded
	}
	cfg.DataPath = input.Data
	cfg.OutDir = input.OutDir
	cfg.ScriptPath = input.Script
	if input.CoreElliptic {
		cfg.CoreElliptic = true
	}
	if input.ComputeCV {
		cfg.ComputeCV = true
	}

	s.mu.Lock()
	if s.session != nil {
		select {
		case <-s.session.Done():
			s.session.Cancel()
		default:
			if input.Force {
				logger.Warn("force-replacing active session", "old_id", s.session.ID)
				s.session.Cancel()
			} else {
				s.mu.Unlock()
				return nil, startModelRunOutput{}, fmt.Errorf("a modeling run is already active (id=%s)", s.session.ID)
			}
		}
	}
	s.session = nil
	s.mu.Unlock()

	sess, err := NewSession(cfg)
	if err != nil {
		return nil, startModelRunOutput{}, fmt.Errorf("start model run: %w", err)
	}
	logger.Info("modeling session started", "id", sess.ID, "source", sess.Source)

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()

	return nil, startModelRunOutput{
		RunID:  sess.ID,
		Source: sess.Source,
		Status: string(StateRunning),
	}, nil
}

func (s *Server) handleGetRunStatus(_ context.Context, _ *sdkmcp.CallToolRequest, input getRunStatusInput) (*sdkmcp.CallToolResult, getRunStatusOutput, error) {
	sess, err := s.getSession(input.RunID)
	if err != nil {
		return nil, getRunStatusOutput{}, err
	}

	out := getRunStatusOutput{
		Status:    string(sess.State()),
		Iteration: sess.Modeler.Iteration(),
	}
	if sessErr := sess.Err(); sessErr != nil {
		out.Error = sessErr.Error()
	}
	return nil, out, nil
}

func (s *Server) handleGetRunReport(ctx context.Context, _ *sdkmcp.CallToolRequest, input getRunReportInput) (*sdkmcp.CallToolResult, getRunReportOutput, error) {
	sess, err := s.getSession(input.RunID)
	if err != nil {
		return nil, getRunReportOutput{}, err
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
		return nil, getRunReportOutput{}, ctx.Err()
	}

	out := getRunReportOutput{Status: string(sess.State())}
	if sessErr := sess.Err(); sessErr != nil {
		out.Error = sessErr.Error()
	}
	out.BestModel = sess.Best()
	if report := sess.Modeler.Report(); report != nil {
		data, err := json.Marshal(report)
		if err != nil {
			return nil, getRunReportOutput{}, fmt.Errorf("marshal report: %w", err)
		}
		out.ReportJSON = string(data)
	}
	return nil, out, nil
}

func (s *Server) getSession(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, fmt.Errorf("no modeling session")
	}
	if id != "" && id != s.session.ID {
		return nil, fmt.Errorf("unknown run id %q", id)
	}
	return s.session, nil
}
