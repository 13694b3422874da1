package app

import (
	"context"
	"fmt"

	"github.com/example/counselling-scheduler/internal/application"
	"github.com/example/counselling-scheduler/internal/persistence"
	"github.com/example/counselling-scheduler/internal/scheduler"
)

type counsellorDirectoryAdapter struct {
	repo persistence.CounsellorRepository
}

func newCounsellorDirectoryAdapter(repo persistence.CounsellorRepository) *counsellorDirectoryAdapter {
	return &counsellorDirectoryAdapter{repo: repo}
}

func (a *counsellorDirectoryAdapter) GetCounsellor(ctx context.Context, id string) (application.Counsellor, error) {
	stored, err := a.repo.GetCounsellor(ctx, id)
	if err != nil {
		return application.Counsellor{}, err
	}
	return toApplicationCounsellor(stored), nil
}

func (a *counsellorDirectoryAdapter) ListCounsellors(ctx context.Context) ([]application.Counsellor, error) {
	models, err := a.repo.ListCounsellors(ctx)
	if err != nil {
		return nil, err
	}
	counsellors := make([]application.Counsellor, 0, len(models))
	for _, model := range models {
		counsellors = append(counsellors, toApplicationCounsellor(model))
	}
	return counsellors, nil
}

func (a *counsellorDirectoryAdapter) UpsertCounsellor(ctx context.Context, counsellor application.Counsellor) error {
	return a.repo.UpsertCounsellor(ctx, persistence.Counsellor{
		ID:          counsellor.ID,
		DisplayName: counsellor.DisplayName,
		Specialty:   counsellor.Specialty,
	})
}

type sessionStoreAdapter struct {
	repo persistence.SessionRepository
}

func newSessionStoreAdapter(repo persistence.SessionRepository) *sessionStoreAdapter {
	return &sessionStoreAdapter{repo: repo}
}

func (a *sessionStoreAdapter) GetSession(ctx context.Context, id string) (application.Session, error) {
	stored, err := a.repo.GetSession(ctx, id)
	if err != nil {
		return application.Session{}, err
	}
	return toApplicationSession(stored)
}

func (a *sessionStoreAdapter) ListSessions(ctx context.Context, query application.SessionQuery) ([]application.Session, error) {
	models, err := a.repo.ListSessions(ctx, persistence.SessionFilter{
		CounsellorID: query.CounsellorID,
		StudentID:    query.StudentID,
		Status:       string(query.Status),
	})
	if err != nil {
		return nil, err
	}
	return toApplicationSessions(models)
}

func (a *sessionStoreAdapter) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx application.SessionTx) error) error {
	return a.repo.WithinTransaction(ctx, func(ctx context.Context, tx persistence.SessionTx) error {
		return fn(ctx, sessionTxAdapter{tx: tx})
	})
}

type sessionTxAdapter struct {
	tx persistence.SessionTx
}

func (a sessionTxAdapter) LockCounsellorDays(ctx context.Context, counsellorID string, days ...scheduler.Date) error {
	dates := make([]string, 0, len(days))
	for _, day := range days {
		dates = append(dates, day.String())
	}
	return a.tx.LockCounsellorDays(ctx, counsellorID, dates...)
}

func (a sessionTxAdapter) GetSession(ctx context.Context, id string) (application.Session, error) {
	stored, err := a.tx.GetSessionForUpdate(ctx, id)
	if err != nil {
		return application.Session{}, err
	}
	return toApplicationSession(stored)
}

func (a sessionTxAdapter) ListCounsellorDay(ctx context.Context, counsellorID string, day scheduler.Date) ([]application.Session, error) {
	models, err := a.tx.ListSessions(ctx, persistence.SessionFilter{CounsellorID: counsellorID, SessionDate: day.String()})
	if err != nil {
		return nil, err
	}
	return toApplicationSessions(models)
}

func (a sessionTxAdapter) CreateSession(ctx context.Context, session application.Session) error {
	return a.tx.CreateSession(ctx, toPersistenceSession(session))
}

func (a sessionTxAdapter) UpdateSession(ctx context.Context, session application.Session) error {
	return a.tx.UpdateSession(ctx, toPersistenceSession(session))
}

func toApplicationCounsellor(model persistence.Counsellor) application.Counsellor {
	return application.Counsellor{
		ID:          model.ID,
		DisplayName: model.DisplayName,
		Specialty:   model.Specialty,
	}
}

func toApplicationSession(model persistence.Session) (application.Session, error) {
	date, err := scheduler.ParseDate(model.SessionDate)
	if err != nil {
		return application.Session{}, fmt.Errorf("session %s: %w", model.ID, err)
	}
	start, err := scheduler.ParseTimeOfDay(model.StartTime)
	if err != nil {
		return application.Session{}, fmt.Errorf("session %s: %w", model.ID, err)
	}
	end, err := scheduler.ParseTimeOfDay(model.EndTime)
	if err != nil {
		return application.Session{}, fmt.Errorf("session %s: %w", model.ID, err)
	}

	report := ""
	if model.ReportContent != nil {
		report = *model.ReportContent
	}
	return application.Session{
		ID:                 model.ID,
		CounsellorID:       model.CounsellorID,
		StudentID:          model.StudentID,
		Date:               date,
		Start:              start,
		End:                end,
		Type:               scheduler.SessionType(model.SessionType),
		Location:           cloneString(model.Location),
		Status:             scheduler.Status(model.Status),
		Confirmed:          model.Confirmed,
		Notes:              model.Notes,
		CancellationReason: cloneString(model.CancellationReason),
		ReportAvailable:    model.ReportAvailable,
		ReportContent:      report,
		CreatedAt:          model.CreatedAt,
		UpdatedAt:          model.UpdatedAt,
	}, nil
}

func toApplicationSessions(models []persistence.Session) ([]application.Session, error) {
	sessions := make([]application.Session, 0, len(models))
	for _, model := range models {
		session, err := toApplicationSession(model)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func toPersistenceSession(session application.Session) persistence.Session {
	var report *string
	if session.ReportAvailable || session.ReportContent != "" {
		content := session.ReportContent
		report = &content
	}
	return persistence.Session{
		ID:                 session.ID,
		CounsellorID:       session.CounsellorID,
		StudentID:          session.StudentID,
		SessionDate:        session.Date.String(),
		StartTime:          session.Start.String(),
		EndTime:            session.End.String(),
		SessionType:        string(session.Type),
		Location:           cloneString(session.Location),
		Status:             string(session.Status),
		Confirmed:          session.Confirmed,
		Notes:              session.Notes,
		CancellationReason: cloneString(session.CancellationReason),
		ReportAvailable:    session.ReportAvailable,
		ReportContent:      report,
		CreatedAt:          session.CreatedAt,
		UpdatedAt:          session.UpdatedAt,
	}
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
