package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"agent-trading-floor/internal/interfaces"
	"agent-trading-floor/internal/store"
	"agent-trading-floor/internal/tools"
	"agent-trading-floor/internal/trace"
	"agent-trading-floor/internal/types"
)

// maxResponseBytes bounds the oracle response size.
const maxResponseBytes = 1 << 20

const defaultBaseURL = "https://api.openai.com/v1"

// Decider consults an OpenAI-compatible chat completions endpoint. The
// per-agent model comes from the agent spec, so one client serves mixed
// model assignments.
type Decider struct {
	cfg *store.Config
}

func NewDecider(cfg *store.Config) *Decider {
	return &Decider{cfg: cfg}
}

var _ interfaces.Decider = (*Decider)(nil)

func (d *Decider) Propose(ctx context.Context, req types.OracleRequest) (types.Proposal, error) {
	ctx, span := trace.StartSpan(ctx, "openai-api-call")
	defer span.End()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return types.Proposal{}, errors.New("OPENAI_API_KEY missing")
	}

	ub, _ := json.Marshal(req)
	prompt := fmt.Sprintf(
		"You manage a simulated brokerage account. State follows as JSON.\n"+
			"Available tools:%s\n"+
			"Respond ONLY with compact JSON: {\"reasoning\": string, \"calls\": [{\"tool\": string, \"args\": object}]}.\n"+
			"At most %d calls. State:%s",
		tools.MenuJSON(req.MarketOpen), req.CallBudget, string(ub))

	system := d.cfg.LLM.System
	if req.Agent.Strategy != "" {
		system = system + "\nYour strategy:\n" + req.Agent.Strategy
	}

	body := map[string]any{
		"model":       req.Agent.Model,
		"messages":    []map[string]string{{"role": "system", "content": system}, {"role": "user", "content": prompt}},
		"temperature": d.cfg.LLM.Temperature,
		"max_tokens":  d.cfg.LLM.MaxTokens,
	}
	bb, _ := json.Marshal(body)

	baseURL := d.cfg.LLM.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpReq, _ := http.NewRequestWithContext(ctx, "POST", baseURL+"/chat/completions", bytes.NewReader(bb))
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return types.Proposal{}, fmt.Errorf("%w: %v", types.ErrOracleTimeout, err)
		}
		return types.Proposal{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return types.Proposal{}, fmt.Errorf("openai http %d", resp.StatusCode)
	}

	var r struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&r); err != nil {
		return types.Proposal{}, err
	}
	if len(r.Choices) == 0 {
		return types.Proposal{}, errors.New("no choices")
	}

	out := strings.TrimSpace(r.Choices[0].Message.Content)
	out = stripCodeFence(out)

	proposal, rejected := tools.DecodeProposal([]byte(out))
	proposal.Rejected = append(proposal.Rejected, rejected...)
	tools.LogRejected(ctx, req.Agent.Name, rejected)
	return proposal, nil
}

// stripCodeFence removes a wrapping ```json fence some models add despite
// the compact-JSON instruction.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
