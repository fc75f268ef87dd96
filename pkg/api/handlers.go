package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/abbyhq/abby/pkg/approval"
	"github.com/abbyhq/abby/pkg/classifier"
	"github.com/abbyhq/abby/pkg/contracts"
	"github.com/abbyhq/abby/pkg/executor"
	"github.com/abbyhq/abby/pkg/intent"
	"github.com/abbyhq/abby/pkg/proposal"
	"github.com/abbyhq/abby/pkg/session"
	"github.com/abbyhq/abby/pkg/store"
)

// maxBodyBytes leaves room for a few inline images.
const maxBodyBytes = 32 << 20

type classifyResponse struct {
	Error  string                 `json:"error,omitempty"`
	Intent contracts.ActionIntent `json:"intent"`
}

type proposeResponse struct {
	Intent   contracts.ActionIntent    `json:"intent"`
	Proposal *contracts.ActionProposal `json:"proposal,omitempty"`
}

type createProposalRequest struct {
	Action contracts.ActionType `json:"action"`
	Entity contracts.EntityType `json:"entity"`
	Params map[string]any       `json:"params"`
}

type proposalResponse struct {
	Proposal contracts.ActionProposal `json:"proposal"`
}

type approveResponse struct {
	Token  contracts.ApprovalToken   `json:"token"`
	Result contracts.ExecutionResult `json:"result"`
}

type executeRequest struct {
	Command contracts.ActionCommand `json:"command"`
	Token   contracts.ApprovalToken `json:"token"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// classify runs the classifier and writes the error response itself. ok is
// false when a response was written.
func (s *Server) classify(w http.ResponseWriter, r *http.Request) (classifier.Outcome, bool) {
	var req classifier.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, classifyResponse{
			Error:  "invalid request body",
			Intent: intent.Failed(""),
		})
		return classifier.Outcome{}, false
	}

	ctx, finish := s.deps.Telemetry.TrackOperation(r.Context(), "classify")
	out, err := s.deps.Classifier.Classify(ctx, req)
	switch {
	case err != nil:
		finish(err)
		writeJSON(w, http.StatusBadRequest, classifyResponse{
			Error:  err.Error(),
			Intent: intent.Failed(req.Input),
		})
		return out, false
	case out.Failure != nil:
		finish(out.Failure)
		s.logger.WarnContext(ctx, "classification failed", "error", out.Failure, "request_id", GetRequestID(ctx))
		writeJSON(w, http.StatusInternalServerError, classifyResponse{
			Error:  "classification failed",
			Intent: out.Intent,
		})
		return out, false
	}
	finish(nil)
	return out, true
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	out, ok := s.classify(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, classifyResponse{Intent: out.Intent})
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	out, ok := s.classify(w, r)
	if !ok {
		return
	}
	p, err := s.deps.Proposals.FromIntent(out.Intent)
	if errors.Is(err, proposal.ErrNotActionable) {
		writeJSON(w, http.StatusOK, proposeResponse{Intent: out.Intent})
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if err := s.deps.Queue.Enqueue(p.Command); err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposeResponse{Intent: out.Intent, Proposal: &p})
}

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var req createProposalRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	p, err := s.deps.Proposals.FromRequest(req.Action, req.Entity, req.Params)
	if err != nil {
		if errors.Is(err, proposal.ErrInvalidRequest) {
			WriteBadRequest(w, err.Error())
			return
		}
		WriteInternal(w, err)
		return
	}
	if err := s.deps.Queue.Enqueue(p.Command); err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposalResponse{Proposal: p})
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	pending := s.deps.Queue.Pending()
	if pending == nil {
		pending = []contracts.ActionCommand{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cmd, _ := s.deps.Queue.Get(id)
	ctx, finish := s.deps.Telemetry.TrackOperation(r.Context(), "approve", attribute.String("command.id", id))
	token, res, err := s.deps.Decider.OnApprove(ctx, id)
	finish(err)
	switch {
	case errors.Is(err, approval.ErrNotFound):
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", "no pending command with that id")
		return
	case errors.Is(err, session.ErrBusy):
		WriteConflict(w, "another approval is still executing")
		return
	case err != nil:
		WriteInternal(w, err)
		return
	}
	s.deps.Telemetry.RecordDecision(ctx, "approve", string(cmd.Action))
	writeJSON(w, http.StatusOK, approveResponse{Token: token, Result: res})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cmd, pending := s.deps.Queue.Get(id)
	if err := s.deps.Decider.OnReject(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrBusy) {
			WriteConflict(w, "an approval is still executing")
			return
		}
		WriteInternal(w, err)
		return
	}
	if pending {
		s.deps.Telemetry.RecordDecision(r.Context(), "reject", string(cmd.Action))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	ctx, finish := s.deps.Telemetry.TrackOperation(r.Context(), "execute",
		attribute.String("command.action", string(req.Command.Action)))
	res := s.deps.Executor.ExecuteCommand(ctx, req.Command, req.Token)

	status := http.StatusOK
	if !res.Success {
		finish(errors.New(res.Error))
		status = http.StatusUnprocessableEntity
		if res.Error == executor.InvalidApproval {
			status = http.StatusForbidden
		}
	} else {
		finish(nil)
	}
	writeJSON(w, status, res)
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	records, err := s.deps.Collections.Load(r.Context(), name)
	if errors.Is(err, store.ErrUnknownCollection) {
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", "unknown collection "+name)
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
