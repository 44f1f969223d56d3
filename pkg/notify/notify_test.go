package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnwatch/learnwatch/pkg/diff"
	"github.com/learnwatch/learnwatch/pkg/errkind"
	"github.com/learnwatch/learnwatch/pkg/reminder"
	"github.com/learnwatch/learnwatch/pkg/snapshot"
	"github.com/learnwatch/learnwatch/pkg/whttp"
)

var deadline = time.Date(2024, 4, 7, 23, 59, 0, 0, time.UTC)

func hwChange(kind diff.Kind) diff.Change {
	return diff.Change{
		Kind:       kind,
		CourseID:   "c1",
		CourseName: "Signals_2",
		Assignment: &snapshot.Assignment{
			ID: "h1", Title: "hw*1", URL: "https://learn.example.edu/h1", Deadline: deadline,
		},
	}
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\*b\_c\`+"`"+`d\[e]`, EscapeMarkdown("a*b_c`d[e]"))
	assert.Equal(t, "plain", EscapeMarkdown("plain"))
}

func TestUnescapeMarkdown(t *testing.T) {
	raw := "a*b_c`d[e]"
	assert.Equal(t, raw, UnescapeMarkdown(EscapeMarkdown(raw)))
}

func TestRenderPlain(t *testing.T) {
	r := Renderer{Location: time.UTC, Plain: true}

	approaching := hwChange(diff.DeadlineApproaching)
	approaching.Reminder = reminder.OneHour
	assert.Equal(t,
		"Homework due in 1 hour!\n「Signals_2」hw*1 <https://learn.example.edu/h1>\nDeadline: 2024-04-07 23:59:00",
		r.Render(approaching))

	file := diff.Change{Kind: diff.FileAdded, CourseName: "Signals_2", File: &snapshot.File{Title: "notes_[v2]"}}
	assert.Equal(t, "「Signals_2」 published a new file: notes_[v2]", r.Render(file))
}

func TestRender(t *testing.T) {
	r := Renderer{Location: time.UTC}

	approaching := hwChange(diff.DeadlineApproaching)
	approaching.Reminder = reminder.OneHour

	changed := hwChange(diff.DeadlineChanged)
	changed.PreviousDeadline = deadline.Add(-24 * time.Hour)

	graded := hwChange(diff.Graded)
	graded.Assignment.Grade = "95"
	graded.Assignment.GradeContent = "good\n\n\nwork"

	leveled := hwChange(diff.Graded)
	leveled.Assignment.Grade = "95"
	leveled.Assignment.GradeLevel = "A"

	tests := []struct {
		name string
		in   diff.Change
		want string
	}{
		{
			"new course",
			diff.Change{Kind: diff.NewCourse, CourseName: "Algebra", Semester: "2023-2024-2"},
			"New course 「Algebra」 (2023-2024-2)",
		},
		{
			"course removed",
			diff.Change{Kind: diff.CourseRemoved, CourseName: "Algebra"},
			"Course 「Algebra」 is no longer listed",
		},
		{
			"file",
			diff.Change{Kind: diff.FileAdded, CourseName: "Signals", File: &snapshot.File{Title: "notes_1", DownloadURL: "https://x/f"}},
			`「Signals」 published a new file: [notes\_1](https://x/f)`,
		},
		{
			"announcement",
			diff.Change{Kind: diff.AnnouncementAdded, CourseName: "Signals", Announcement: &snapshot.Announcement{Title: "Exam", URL: "https://x/a", Content: "Room *101*\n\n\nBring ID"}},
			"「Signals」 posted a new announcement: [Exam](https://x/a)\n====================\nRoom \\*101\\*\nBring ID",
		},
		{
			"assignment added",
			hwChange(diff.AssignmentAdded),
			"「Signals\\_2」 assigned new homework: [hw\\*1](https://learn.example.edu/h1)\nDeadline: 2024-04-07 23:59:00",
		},
		{
			"deadline changed",
			changed,
			"Deadline changed: 「Signals\\_2」[hw\\*1](https://learn.example.edu/h1)\nDeadline: 2024-04-07 23:59:00\nWas: 2024-04-06 23:59:00",
		},
		{
			"approaching",
			approaching,
			"Homework due in *1 hour*!\n「Signals\\_2」[hw\\*1](https://learn.example.edu/h1)\nDeadline: 2024-04-07 23:59:00",
		},
		{
			"overdue",
			hwChange(diff.DeadlineOverdue),
			"Homework deadline passed!\n「Signals\\_2」[hw\\*1](https://learn.example.edu/h1)\nDeadline: 2024-04-07 23:59:00",
		},
		{
			"submitted",
			hwChange(diff.Submitted),
			"Homework submitted: 「Signals\\_2」[hw\\*1](https://learn.example.edu/h1)",
		},
		{
			"graded with content",
			graded,
			"New grade: 「Signals\\_2」[hw\\*1](https://learn.example.edu/h1)\nGrade: 95\n====================\ngood\nwork",
		},
		{
			"grade level wins",
			leveled,
			"New grade: 「Signals\\_2」[hw\\*1](https://learn.example.edu/h1)\nGrade level: A",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Render(tt.in))
		})
	}
}

func TestTelegramSend(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botT0KEN/sendMessage" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"ok":false,"description":"Not Found"}`)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got["text"] == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"ok":false,"description":"Bad Request: can't parse entities"}`)
			return
		}
		io.WriteString(w, `{"ok":true,"result":{"message_id":1}}`)
	}))
	defer srv.Close()

	client, err := whttp.NewClient(whttp.ClientOptions{RetryMax: 1})
	require.NoError(t, err)
	sink := NewTelegram(srv.URL, "T0KEN", "-100", client)

	require.NoError(t, sink.Send(context.Background(), "hello"))
	assert.Equal(t, "-100", got["chat_id"])
	assert.Equal(t, "Markdown", got["parse_mode"])
	assert.Equal(t, "hello", got["text"])

	err = sink.Send(context.Background(), "bad")
	require.Error(t, err)
	assert.Equal(t, errkind.Delivery, errkind.KindOf(err))
	assert.Contains(t, err.Error(), "can't parse entities")
}

func TestNewTelegramEndpoint(t *testing.T) {
	assert.Equal(t, "https://api.telegram.org/botx/sendMessage", NewTelegram("", "x", "1", nil).endpoint)
	assert.Equal(t, "https://tg.example.org/botx/sendMessage", NewTelegram("tg.example.org/", "x", "1", nil).endpoint)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSendChange(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaWithWriter(w, "learnwatch.changes")
	c := hwChange(diff.Submitted)

	require.NoError(t, Deliver(context.Background(), sink, c, "text"))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "learnwatch.changes", msg.Topic)
	assert.Equal(t, "c1", string(msg.Key))

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, diff.Submitted, ev.Kind)
	assert.Equal(t, "text", ev.Text)
	assert.Equal(t, "hw*1", ev.Assignment.Title)

	w.err = errors.New("broker down")
	err := sink.Send(context.Background(), "plain")
	assert.Equal(t, errkind.Delivery, errkind.KindOf(err))
}

func TestSendGrid(t *testing.T) {
	var body map[string]interface{}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewSendGrid("SG.key", "bot@example.edu", []string{"me@example.edu", " "})
	sink.host = srv.URL
	require.NoError(t, Deliver(context.Background(), sink, hwChange(diff.Submitted), "done"))

	assert.Equal(t, "Bearer SG.key", auth)
	pers := body["personalizations"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "[learnwatch] Signals_2: hw*1", pers["subject"])
	assert.Len(t, pers["to"], 1)
	content := body["content"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Homework submitted: 「Signals_2」hw*1 <https://learn.example.edu/h1>", content["value"])

	require.NoError(t, sink.Send(context.Background(), `Login failed: bad\_user`))
	content = body["content"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Login failed: bad_user", content["value"])

	empty := NewSendGrid("k", "bot@example.edu", nil)
	err := empty.Send(context.Background(), "x")
	assert.Equal(t, errkind.Delivery, errkind.KindOf(err))
	assert.True(t, strings.Contains(err.Error(), "no recipients"))
}

func TestSendGridStopsWaitingOnDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()
	defer close(release)

	sink := NewSendGrid("SG.key", "bot@example.edu", []string{"me@example.edu"})
	sink.host = srv.URL

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := sink.Send(ctx, "hello")
	require.Error(t, err)
	assert.Equal(t, errkind.Delivery, errkind.KindOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}
