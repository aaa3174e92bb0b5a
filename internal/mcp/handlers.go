package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/sweepsim/internal/ratelimit"
	"github.com/nvandessel/sweepsim/internal/scheduler"
)

// registerTools registers all sweep tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "sweep_request",
		Description: "Simulate every encounter in a scope and re-aggregate the affected instances and task sets",
	}, s.handleSweepRequest)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "sweep_cancel",
		Description: "Cancel a running sweep; finished encounters keep their results, in-flight ones are discarded",
	}, s.handleSweepCancel)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "sweep_status",
		Description: "Report progress of one sweep or of every sweep",
	}, s.handleSweepStatus)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "result_get",
		Description: "Get the simulated and downtime-adjusted rates of an encounter or group",
	}, s.handleResultGet)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "filter_set",
		Description: "Include or exclude an encounter or group from aggregation",
	}, s.handleFilterSet)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "history_list",
		Description: "List result snapshots recorded after completed sweeps",
	}, s.handleHistoryList)
}

func (s *Server) handleSweepRequest(ctx context.Context, req *sdk.CallToolRequest, args SweepRequestInput) (_ *sdk.CallToolResult, _ SweepStatusOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("sweep_request", start, retErr, auditParams(map[string]any{
			"scope": args.Scope, "trials": args.Trials, "ticks": args.Ticks, "wait": args.Wait,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "sweep_request"); err != nil {
		return nil, SweepStatusOutput{}, err
	}
	if args.Scope == "" {
		return nil, SweepStatusOutput{}, fmt.Errorf("'scope' parameter is required")
	}
	scope, err := scheduler.ParseScope(args.Scope)
	if err != nil {
		return nil, SweepStatusOutput{}, err
	}

	sreq := scheduler.Request{Scope: scope, Agent: s.agent, Trials: s.trials, Ticks: s.ticks}
	if args.Trials != 0 {
		sreq.Trials = args.Trials
	}
	if args.Ticks != 0 {
		sreq.Ticks = args.Ticks
	}
	sw, err := s.engine.RequestSweep(sreq)
	if err != nil {
		return nil, SweepStatusOutput{}, fmt.Errorf("failed to start sweep: %w", err)
	}

	if args.Wait {
		if err := sw.Wait(ctx); err != nil {
			s.logger.Debug("stopped waiting for sweep", "sweep", sw.ID(), "error", err)
		}
	}
	return nil, SweepStatusOutput{Sweeps: []SweepView{sweepView(sw.Status())}, Count: 1}, nil
}

func (s *Server) handleSweepCancel(ctx context.Context, req *sdk.CallToolRequest, args SweepCancelInput) (_ *sdk.CallToolResult, _ SweepStatusOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("sweep_cancel", start, retErr, auditParams(map[string]any{"id": args.ID}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "sweep_cancel"); err != nil {
		return nil, SweepStatusOutput{}, err
	}
	id, err := parseSweepID(args.ID)
	if err != nil {
		return nil, SweepStatusOutput{}, err
	}
	if err := s.engine.Cancel(id); err != nil {
		return nil, SweepStatusOutput{}, err
	}
	st, err := s.engine.Status(id)
	if err != nil {
		return nil, SweepStatusOutput{}, err
	}
	return nil, SweepStatusOutput{Sweeps: []SweepView{sweepView(st)}, Count: 1}, nil
}

func (s *Server) handleSweepStatus(ctx context.Context, req *sdk.CallToolRequest, args SweepStatusInput) (_ *sdk.CallToolResult, _ SweepStatusOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("sweep_status", start, retErr, auditParams(map[string]any{"id": args.ID}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "sweep_status"); err != nil {
		return nil, SweepStatusOutput{}, err
	}

	if args.ID == "" {
		all := s.engine.Sweeps()
		views := make([]SweepView, 0, len(all))
		for _, st := range all {
			views = append(views, sweepView(st))
		}
		return nil, SweepStatusOutput{Sweeps: views, Count: len(views)}, nil
	}

	id, err := parseSweepID(args.ID)
	if err != nil {
		return nil, SweepStatusOutput{}, err
	}
	st, err := s.engine.Status(id)
	if err != nil {
		return nil, SweepStatusOutput{}, err
	}
	return nil, SweepStatusOutput{Sweeps: []SweepView{sweepView(st)}, Count: 1}, nil
}

func (s *Server) handleResultGet(ctx context.Context, req *sdk.CallToolRequest, args ResultGetInput) (_ *sdk.CallToolResult, _ ResultGetOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("result_get", start, retErr, auditParams(map[string]any{"id": args.ID}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "result_get"); err != nil {
		return nil, ResultGetOutput{}, err
	}
	if args.ID == "" {
		return nil, ResultGetOutput{}, fmt.Errorf("'id' parameter is required")
	}

	t, ok := s.engine.GetResult(args.ID)
	if !ok {
		return nil, ResultGetOutput{ID: args.ID}, nil
	}
	rates, _ := s.engine.Adjusted(args.ID)
	return nil, ResultGetOutput{
		ID:        args.ID,
		Found:     true,
		Telemetry: telemetryView(t),
		Adjusted:  ratesView(rates),
	}, nil
}

func (s *Server) handleFilterSet(ctx context.Context, req *sdk.CallToolRequest, args FilterSetInput) (_ *sdk.CallToolResult, _ FilterSetOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("filter_set", start, retErr, auditParams(map[string]any{"id": args.ID, "included": args.Included}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "filter_set"); err != nil {
		return nil, FilterSetOutput{}, err
	}
	if args.ID == "" {
		return nil, FilterSetOutput{}, fmt.Errorf("'id' parameter is required")
	}
	if err := s.engine.SetFilter(args.ID, args.Included); err != nil {
		return nil, FilterSetOutput{}, err
	}

	verb := "excluded from"
	if args.Included {
		verb = "included in"
	}
	return nil, FilterSetOutput{
		ID:       args.ID,
		Included: args.Included,
		Message:  fmt.Sprintf("%s is %s aggregation from the next sweep that covers it", args.ID, verb),
	}, nil
}

func (s *Server) handleHistoryList(ctx context.Context, req *sdk.CallToolRequest, args HistoryListInput) (_ *sdk.CallToolResult, _ HistoryListOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("history_list", start, retErr, auditParams(map[string]any{"limit": args.Limit}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "history_list"); err != nil {
		return nil, HistoryListOutput{}, err
	}
	if s.history == nil {
		return nil, HistoryListOutput{Snapshots: []HistoryView{}}, nil
	}

	list, err := s.history.List(ctx, args.Limit)
	if err != nil {
		return nil, HistoryListOutput{}, fmt.Errorf("failed to list history: %w", err)
	}
	views := make([]HistoryView, 0, len(list))
	for _, sum := range list {
		views = append(views, historyView(sum))
	}
	return nil, HistoryListOutput{Enabled: true, Snapshots: views, Count: len(views)}, nil
}

func parseSweepID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.UUID{}, fmt.Errorf("'id' parameter is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("invalid sweep id %q: %w", s, err)
	}
	return id, nil
}
