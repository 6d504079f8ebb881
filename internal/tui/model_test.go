package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"pdf-rag/internal/models"
	"pdf-rag/internal/rag"
)

type fakeAsker struct {
	err       error
	questions []string
}

func (f *fakeAsker) Ask(_ context.Context, question string, _ ...rag.AskOption) (models.Answer, error) {
	f.questions = append(f.questions, question)
	if f.err != nil {
		return models.Answer{}, f.err
	}
	return models.Answer{
		Text:    "Answer to " + question,
		Sources: []models.DocumentRef{{Path: "report.pdf", Page: 2}},
		Query:   question,
	}, nil
}

func send(m Model, msg tea.Msg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func submit(t *testing.T, m Model, question string) Model {
	t.Helper()
	m.input.SetValue(question)
	m, cmd := send(m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatalf("expected an ask command for %q", question)
	}
	if !m.pending {
		t.Fatalf("expected pending state while asking")
	}
	m, _ = send(m, cmd())
	return m
}

func TestAskFlow(t *testing.T) {
	asker := &fakeAsker{}
	m := New(context.Background(), asker, 3, "report.pdf: 3 pages")
	m, _ = send(m, tea.WindowSizeMsg{Width: 80, Height: 30})

	m = submit(t, m, "What budget was approved?")
	m = submit(t, m, "Who was hired?")

	if len(m.answers) != 2 || m.cursor != 1 {
		t.Fatalf("expected 2 answers with cursor on the last, got %d/%d", len(m.answers), m.cursor)
	}
	view := m.View()
	if !strings.Contains(view, "Answer to Who was hired?") || !strings.Contains(view, "report.pdf#2") {
		t.Fatalf("expected latest answer and sources in view:\n%s", view)
	}

	m, _ = send(m, tea.KeyMsg{Type: tea.KeyUp})
	if m.cursor != 0 {
		t.Fatalf("expected cursor 0 after up, got %d", m.cursor)
	}
	m, _ = send(m, tea.KeyMsg{Type: tea.KeyDown})
	if m.cursor != 1 {
		t.Fatalf("expected cursor 1 after down, got %d", m.cursor)
	}
}

func TestAskError(t *testing.T) {
	m := New(context.Background(), &fakeAsker{err: errors.New("pipeline not ready")}, 3, "")
	m = submit(t, m, "anything")
	if len(m.answers) != 0 || !strings.HasPrefix(m.status, "Error:") {
		t.Fatalf("expected error status, got %q with %d answers", m.status, len(m.answers))
	}
}

func TestEmptyQuestionIgnored(t *testing.T) {
	asker := &fakeAsker{}
	m := New(context.Background(), asker, 3, "")
	m.input.SetValue("   ")
	_, cmd := send(m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil || len(asker.questions) != 0 {
		t.Fatalf("expected empty question to be ignored")
	}
}

func TestExitWords(t *testing.T) {
	for _, word := range []string{"exit", "quit", "salir", "EXIT"} {
		m := New(context.Background(), &fakeAsker{}, 3, "")
		m.input.SetValue(word)
		_, cmd := send(m, tea.KeyMsg{Type: tea.KeyEnter})
		if cmd == nil {
			t.Fatalf("%s: expected quit command", word)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Fatalf("%s: expected tea.QuitMsg", word)
		}
	}
}
