package responder

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/incentive-match/internal/llm"
	"github.com/sells-group/incentive-match/internal/model"
	"github.com/sells-group/incentive-match/internal/retrieval"
)

type fakeResolver struct {
	res     *model.Resolution
	items   []model.ContextItem
	err     error
	panics  bool
	limitIn int
}

func (f *fakeResolver) Resolve(_ context.Context, _ string, limit int) (*model.Resolution, error) {
	f.limitIn = limit
	if f.panics {
		panic("nil map write")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func (f *fakeResolver) Contexts(context.Context, *model.Resolution) ([]model.ContextItem, error) {
	return f.items, nil
}

type fakeCompleter struct {
	events []llm.Event
	req    llm.Request
	pulled int
}

func (f *fakeCompleter) Model() string { return "gpt-4o-mini" }

func (f *fakeCompleter) Complete(context.Context, llm.Request) (*llm.Response, error) {
	return nil, errors.New("not used")
}

func (f *fakeCompleter) Stream(_ context.Context, req llm.Request) iter.Seq[llm.Event] {
	f.req = req
	return func(yield func(llm.Event) bool) {
		for _, ev := range f.events {
			f.pulled++
			if !yield(ev) {
				return
			}
		}
	}
}

type usageSpy struct{ recs []model.UsageRecord }

func (u *usageSpy) Record(_ context.Context, rec model.UsageRecord) { u.recs = append(u.recs, rec) }

func delta(s string) llm.Event { return llm.Event{Kind: llm.EventDelta, Text: s} }

func completed() llm.Event {
	return llm.Event{Kind: llm.EventCompleted, Model: "gpt-4o-mini", Usage: llm.Usage{PromptTokens: 900, CompletionTokens: 120}}
}

func resolved() *fakeResolver {
	return &fakeResolver{
		res: &model.Resolution{
			Incentives:      []model.IncentiveStub{{ID: 3, Title: "Vale Inovação"}},
			MatchCount:      1,
			TotalIncentives: 40,
			TotalCompanies:  900,
			Tier:            retrieval.TierExact,
		},
		items: []model.ContextItem{{IncentiveID: 3, Title: "Vale Inovação", Matches: []model.ContextMatch{}}},
	}
}

func collect(seq iter.Seq[string]) []string {
	return slices.Collect(seq)
}

func countSentinels(chunks []string) int {
	n := 0
	for _, c := range chunks {
		if c == EndSentinel {
			n++
		}
	}
	return n
}

func TestStream_NormalCompletion(t *testing.T) {
	comp := &fakeCompleter{events: []llm.Event{delta("Olá"), delta(""), delta(" mundo"), completed()}}
	spy := &usageSpy{}
	r := New(resolved(), comp, spy, DefaultConfig())

	ctx := WithRequestID(context.Background(), "req-1")
	chunks := collect(r.Stream(ctx, "incentivo 3", 5))

	assert.Equal(t, []string{"Olá", " mundo", EndSentinel}, chunks)

	require.Len(t, spy.recs, 1)
	assert.Equal(t, "chat_stream", spy.recs[0].Source)
	assert.Equal(t, 900, spy.recs[0].PromptTokens)
	assert.Equal(t, "req-1", spy.recs[0].Metadata["request_id"])
	assert.Equal(t, "exact", spy.recs[0].Metadata["tier"])

	assert.Equal(t, 0.2, comp.req.Temperature)
	assert.Equal(t, 400, comp.req.MaxTokens)
	assert.True(t, strings.HasPrefix(comp.req.System, SystemPrompt))
}

func TestStream_ModelErrorEndsWithSentinel(t *testing.T) {
	comp := &fakeCompleter{events: []llm.Event{
		delta("parcial"),
		{Kind: llm.EventError, Err: errors.New("stream reset")},
		delta("never"),
	}}
	spy := &usageSpy{}
	r := New(resolved(), comp, spy, DefaultConfig())

	chunks := collect(r.Stream(context.Background(), "quais incentivos", 5))
	assert.Equal(t, []string{"parcial", EndSentinel}, chunks)
	assert.Empty(t, spy.recs)
	assert.Equal(t, 2, comp.pulled)
}

func TestStream_NoTextEmitsEmptyChunk(t *testing.T) {
	comp := &fakeCompleter{events: []llm.Event{{Kind: llm.EventError, Err: errors.New("429")}}}
	r := New(resolved(), comp, nil, DefaultConfig())

	chunks := collect(r.Stream(context.Background(), "x", 5))
	assert.Equal(t, []string{"", EndSentinel}, chunks)
}

func TestStream_ResolveFailure(t *testing.T) {
	res := &fakeResolver{err: errors.New("connection refused")}
	comp := &fakeCompleter{}
	r := New(res, comp, nil, DefaultConfig())

	chunks := collect(r.Stream(context.Background(), "x", 5))
	assert.Equal(t, []string{ErrorMessage, EndSentinel}, chunks)
	assert.Equal(t, 0, comp.pulled)
}

func TestStream_PanicIsContained(t *testing.T) {
	r := New(&fakeResolver{panics: true}, &fakeCompleter{}, nil, DefaultConfig())

	var chunks []string
	require.NotPanics(t, func() {
		chunks = collect(r.Stream(context.Background(), "x", 5))
	})
	assert.Equal(t, []string{ErrorMessage, EndSentinel}, chunks)
}

func TestStream_SentinelExactlyOnceLast(t *testing.T) {
	cases := map[string]*Responder{
		"ok":          New(resolved(), &fakeCompleter{events: []llm.Event{delta("a"), completed()}}, nil, DefaultConfig()),
		"model error": New(resolved(), &fakeCompleter{events: []llm.Event{{Kind: llm.EventError}}}, nil, DefaultConfig()),
		"panic":       New(&fakeResolver{panics: true}, &fakeCompleter{}, nil, DefaultConfig()),
		"empty":       New(resolved(), &fakeCompleter{}, nil, DefaultConfig()),
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			chunks := collect(r.Stream(context.Background(), "q", 5))
			assert.Equal(t, 1, countSentinels(chunks))
			assert.Equal(t, EndSentinel, chunks[len(chunks)-1])
		})
	}
}

func TestStream_ConsumerStopsEarly(t *testing.T) {
	comp := &fakeCompleter{events: []llm.Event{delta("a"), delta("b"), delta("c"), completed()}}
	r := New(resolved(), comp, nil, DefaultConfig())

	var got []string
	for chunk := range r.Stream(context.Background(), "q", 5) {
		got = append(got, chunk)
		break
	}
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 1, comp.pulled)
}

func TestStream_DefaultLimit(t *testing.T) {
	res := resolved()
	r := New(res, &fakeCompleter{}, nil, DefaultConfig())

	collect(r.Stream(context.Background(), "q", 0))
	assert.Equal(t, 5, res.limitIn)
}

func TestUserPrompt_EmptyContext(t *testing.T) {
	res := &model.Resolution{TotalIncentives: 40, TotalCompanies: 900}

	p, err := UserPrompt("quantas empresas qualificam", 5, res, nil, 7000)
	require.NoError(t, err)
	assert.Equal(t,
		"Pergunta: quantas empresas qualificam\n"+
			`Meta: {"k":5,"num_context_items":0,"matching_count":0,"total_incentives":40,"total_companies":900}`+"\n"+
			emptyContextNote+"\n"+
			"Instruções de formatação: "+Formatting(retrieval.ParseQuestion("quantas empresas qualificam"))+"\n"+
			"Contexto JSON:\n[]",
		p)
}

func TestUserPrompt_ContextIsCapped(t *testing.T) {
	res := &model.Resolution{MatchCount: 1}
	items := []model.ContextItem{{IncentiveID: 1, Title: "Inovação & Digital", Description: strings.Repeat("é", 9000), Matches: []model.ContextMatch{}}}

	p, err := UserPrompt("x", 5, res, items, 7000)
	require.NoError(t, err)
	assert.NotContains(t, p, emptyContextNote)

	ctxJSON := p[strings.Index(p, "Contexto JSON:\n")+len("Contexto JSON:\n"):]
	assert.Equal(t, 7000, len([]rune(ctxJSON)))
	assert.True(t, strings.HasPrefix(ctxJSON, `[{"incentive_id":1,"title":"Inovação & Digital","description":"ééé`))
}

func TestFormatting(t *testing.T) {
	howTo := Formatting(retrieval.ParseQuestion("como me candidato"))
	assert.True(t, strings.HasPrefix(howTo, "Inicia com '### Passos recomendados'"))
	assert.NotContains(t, howTo, "Empresas elegíveis")
	assert.True(t, strings.HasSuffix(howTo, "Omitir secções vazias."))

	list := Formatting(retrieval.ParseQuestion("quais empresas"))
	assert.Contains(t, list, "**Empresas elegíveis**")
	assert.NotContains(t, list, "Passos recomendados")

	howToCompanies := Formatting(retrieval.ParseQuestion("como escolher empresas"))
	assert.Contains(t, howToCompanies, "Passos recomendados")
	assert.Contains(t, howToCompanies, "Empresas elegíveis")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		q    string
		want Style
	}{
		{"Quantas empresas qualificam?", StyleCount},
		{"quantos incentivos existem", StyleCount},
		{"Quais os incentivos para PME?", StyleList},
		{"qual o prazo", StyleList},
		{"Como me candidato?", StyleHowTo},
		{"incentivo 3", StyleGeneral},
		{"qualificação", StyleGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.q, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(retrieval.ParseQuestion(tt.q)))
		})
	}
	assert.Equal(t, "howto", StyleHowTo.String())
	assert.Equal(t, SystemPrompt, System(StyleGeneral))
}

func TestRequestID(t *testing.T) {
	assert.Equal(t, "", RequestID(context.Background()))
	assert.Equal(t, "abc", RequestID(WithRequestID(context.Background(), "abc")))
}
