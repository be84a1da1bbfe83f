// Package mailer dispatches absentee report emails after a session is
// finalized. Delivery goes through shoutrrr's SMTP service; every attempt
// is recorded as a dispatch log row, including dry runs.
package mailer

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/url"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/classtrack/classtrack-go/internal/conf"
	"github.com/classtrack/classtrack-go/internal/datastore"
	"github.com/classtrack/classtrack-go/internal/grades"
	"github.com/classtrack/classtrack-go/internal/logging"
)

// Dispatch log status values.
const (
	StatusSent   = "SENT"
	StatusFailed = "FAILED"
	StatusDryRun = "DRY_RUN"
)

// Mailer sends absence reports to students marked absent in a session.
type Mailer struct {
	settings *conf.MailSettings
	ds       datastore.Interface
	logger   *slog.Logger
}

// New creates a mailer over the given datastore.
func New(settings *conf.MailSettings, ds datastore.Interface) *Mailer {
	return &Mailer{
		settings: settings,
		ds:       ds,
		logger:   logging.ForService("mailer"),
	}
}

// SendAbsenteeReports emails every absentee of the finalized session their
// absence report. A failure for one recipient is logged and skipped; the
// rest of the batch still goes out. Returns how many reports were sent (or
// dry-run logged) and how many failed.
func (m *Mailer) SendAbsenteeReports(ctx context.Context, sessionID string) (sent, failed int) {
	if !m.settings.Enabled {
		return 0, 0
	}

	session, err := m.ds.GetSession(sessionID)
	if err != nil || session == nil {
		m.logger.Error("cannot load session for reports", "session_id", sessionID, "error", err)
		return 0, 0
	}

	course, err := m.ds.GetCourse(session.CourseID)
	if err != nil || course == nil {
		m.logger.Error("cannot load course for reports", "session_id", sessionID, "error", err)
		return 0, 0
	}

	absentees, err := m.ds.AbsenteesForSession(sessionID)
	if err != nil {
		m.logger.Error("cannot list absentees", "session_id", sessionID, "error", err)
		return 0, 0
	}

	subject := fmt.Sprintf("Absence recorded for %s on %s",
		course.Name, session.StartedAt.Format("2006-01-02"))

	for i := range absentees {
		entry := &absentees[i]
		if entry.Email == "" {
			m.logDispatch(sessionID, entry.StudentID, "", subject, StatusFailed, "student has no email address")
			failed++
			continue
		}

		body := m.buildReport(course, session, entry)

		if m.settings.DryRun {
			m.logger.Info("dry-run absence report",
				"session_id", sessionID,
				"student_id", entry.StudentID,
				"recipient", entry.Email)
			m.logDispatch(sessionID, entry.StudentID, entry.Email, subject, StatusDryRun, "")
			sent++
			continue
		}

		if err := m.send(ctx, entry.Email, subject, body); err != nil {
			m.logger.Error("absence report failed",
				"session_id", sessionID,
				"recipient", entry.Email,
				"error", err)
			m.logDispatch(sessionID, entry.StudentID, entry.Email, subject, StatusFailed, err.Error())
			failed++
			continue
		}

		m.logDispatch(sessionID, entry.StudentID, entry.Email, subject, StatusSent, "")
		sent++
	}

	m.logger.Info("absentee reports dispatched",
		"session_id", sessionID,
		"sent", sent,
		"failed", failed)
	return sent, failed
}

func (m *Mailer) buildReport(course *datastore.Course, session *datastore.ClassSession, entry *datastore.EnrollmentEntry) string {
	metrics := grades.Compute(&entry.Enrollment, course.MaxAllowedAbsentHours)

	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<h3>Absence Report: %s</h3>", course.Name)
	fmt.Fprintf(&b, "<p>Dear %s,</p>", entry.FullName)
	fmt.Fprintf(&b, "<p>You were marked absent for the class session on %s.</p>",
		session.StartedAt.Format("Monday, 2 January 2006"))
	b.WriteString("<table border=\"1\" cellpadding=\"6\">")
	fmt.Fprintf(&b, "<tr><td>Total absent hours</td><td>%.1f</td></tr>", metrics.HoursAbsentTotal)
	fmt.Fprintf(&b, "<tr><td>Attendance penalty</td><td>%.2f</td></tr>", metrics.AttendancePenalty)
	fmt.Fprintf(&b, "<tr><td>Adjusted total</td><td>%.2f</td></tr>", metrics.AdjustedTotal)
	b.WriteString("</table>")
	if metrics.AtRiskByPolicy {
		fmt.Fprintf(&b, "<p><strong>Warning:</strong> your absences put you at risk under the course policy (maximum %d hours).</p>",
			course.MaxAllowedAbsentHours)
	}
	b.WriteString("<p>If you believe this is an error, contact your instructor.</p>")
	b.WriteString("</body></html>")
	return b.String()
}

func (m *Mailer) send(ctx context.Context, recipient, subject, body string) error {
	sender, err := m.createSender(recipient)
	if err != nil {
		return err
	}

	params := stypes.Params{}
	params.SetTitle(subject)

	errs := sender.Send(body, &params)
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// createSender builds a shoutrrr SMTP router for a single recipient.
func (m *Mailer) createSender(recipient string) (*router.ServiceRouter, error) {
	u := url.URL{
		Scheme: "smtp",
		Host:   fmt.Sprintf("%s:%d", m.settings.SMTPHost, m.settings.SMTPPort),
	}
	if m.settings.Username != "" {
		u.User = url.UserPassword(m.settings.Username, m.settings.Password)
	}

	q := url.Values{}
	q.Set("from", m.settings.From)
	q.Set("to", recipient)
	q.Set("usehtml", "yes")
	if m.settings.UseTLS {
		q.Set("usestarttls", "yes")
	} else {
		q.Set("usestarttls", "no")
	}
	u.RawQuery = q.Encode()

	sender, err := shoutrrr.CreateSender(u.String())
	if err != nil {
		return nil, fmt.Errorf("building SMTP sender: %w", err)
	}
	sender.Timeout = 30 * time.Second
	sender.SetLogger(log.New(io.Discard, "", 0))
	return sender, nil
}

func (m *Mailer) logDispatch(sessionID string, studentID uint, recipient, subject, status, errMsg string) {
	entry := &datastore.EmailDispatchLog{
		SessionID:      sessionID,
		StudentID:      studentID,
		RecipientEmail: recipient,
		SubjectLine:    subject,
		Status:         status,
		ErrorMessage:   errMsg,
		SentAt:         time.Now().UTC(),
	}
	if err := m.ds.InsertEmailLog(entry); err != nil {
		m.logger.Error("failed to record email dispatch", "session_id", sessionID, "error", err)
	}
}
