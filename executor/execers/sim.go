package execers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/twitter/querysched/scheduler/domain"
)

// SimQuery describes how SimExecutor should behave for one request.
//
// Duration - how long the query "runs"; cut short if ctx is cancelled
// Fail - non-empty fails the query with this message
// Panic - panics instead of returning
// Value - the result value; the request ID when nil
type SimQuery struct {
	Duration time.Duration
	Fail     string
	Panic    bool
	Value    interface{}
}

func NewSimExecutor(clk clock.Clock) *SimExecutor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &SimExecutor{clk: clk}
}

// SimExecutor executes by simulating the request's payload, which is a
// SimQuery, a *SimQuery, a step string (see ParseSimQuery) or nil (complete at once).
type SimExecutor struct {
	clk clock.Clock
}

func (e *SimExecutor) Execute(ctx context.Context, req *domain.QueryRequest) (interface{}, error) {
	q, err := simQueryOf(req.Payload)
	if err != nil {
		return nil, err
	}
	if q.Duration > 0 {
		select {
		case <-e.clk.After(q.Duration):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if q.Panic {
		panic(fmt.Sprintf("simulated panic in %s", req.ID))
	}
	if q.Fail != "" {
		return nil, errors.New(q.Fail)
	}
	if q.Value == nil {
		return req.ID, nil
	}
	return q.Value, nil
}

func simQueryOf(payload interface{}) (SimQuery, error) {
	switch p := payload.(type) {
	case nil:
		return SimQuery{}, nil
	case SimQuery:
		return p, nil
	case *SimQuery:
		return *p, nil
	case string:
		return ParseSimQuery(p)
	}
	return SimQuery{}, errors.Errorf("can't simulate payload of type %T", payload)
}

// ParseSimQuery parses ';' separated steps.
// valid steps are:
// sleep <millis int>
//   run for millis milliseconds
// fail <message>
//   fail with message
// panic
//   panic after sleeping
// value <text>
//   complete with text as the value
// Steps starting with '#' are comments.
func ParseSimQuery(s string) (SimQuery, error) {
	var q SimQuery
	for _, arg := range strings.Split(s, ";") {
		arg = strings.TrimSpace(arg)
		if arg == "" || strings.HasPrefix(arg, "#") {
			continue
		}
		splits := strings.SplitN(arg, " ", 2)
		opcode, rest := splits[0], ""
		if len(splits) == 2 {
			rest = strings.TrimSpace(splits[1])
		}
		switch opcode {
		case "sleep":
			i, err := strconv.Atoi(rest)
			if err != nil || i < 0 {
				return q, errors.Errorf("error parsing <n> in sleep <n>: %q", rest)
			}
			q.Duration = time.Duration(i) * time.Millisecond
		case "fail":
			if rest == "" {
				rest = "simulated failure"
			}
			q.Fail = rest
		case "panic":
			q.Panic = true
		case "value":
			q.Value = rest
		default:
			return q, errors.Errorf("can't simulate step: %v", arg)
		}
	}
	return q, nil
}
