package util

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportSigner_IssueAndVerify(t *testing.T) {
	s := NewReportSigner("secret", 0)
	assert.Equal(t, DefaultReportTokenTTL, s.TTL)

	token, err := s.Issue(42)
	require.NoError(t, err)
	assert.NoError(t, s.Verify(token, 42))
}

func TestReportSigner_WrongConsultation(t *testing.T) {
	s := NewReportSigner("secret", time.Hour)
	token, err := s.Issue(42)
	require.NoError(t, err)

	err = s.Verify(token, 43)
	assert.ErrorIs(t, err, ErrInvalidReportToken)
}

func TestReportSigner_WrongSecret(t *testing.T) {
	token, err := NewReportSigner("secret", time.Hour).Issue(1)
	require.NoError(t, err)

	err = NewReportSigner("other", time.Hour).Verify(token, 1)
	assert.ErrorIs(t, err, ErrInvalidReportToken)
}

func TestReportSigner_Expired(t *testing.T) {
	issued := time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)
	s := NewReportSigner("secret", time.Hour)
	s.now = func() time.Time { return issued }
	token, err := s.Issue(7)
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(59 * time.Minute) }
	assert.NoError(t, s.Verify(token, 7))

	s.now = func() time.Time { return issued.Add(2 * time.Hour) }
	assert.ErrorIs(t, s.Verify(token, 7), ErrInvalidReportToken)
}

func TestReportSigner_Garbage(t *testing.T) {
	s := NewReportSigner("secret", time.Hour)
	assert.ErrorIs(t, s.Verify("not-a-token", 1), ErrInvalidReportToken)
}

func TestReportSigner_MissingSecret(t *testing.T) {
	s := NewReportSigner("", time.Hour)
	_, err := s.Issue(1)
	assert.ErrorIs(t, err, ErrMissingSecret)
	assert.ErrorIs(t, s.Verify("x", 1), ErrMissingSecret)
}

func TestReportSigner_ReportURL(t *testing.T) {
	s := NewReportSigner("secret", time.Hour)
	link, err := s.ReportURL(5)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "/consultation/5/report?token="))

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.NoError(t, s.Verify(u.Query().Get("token"), 5))
}
