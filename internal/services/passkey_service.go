package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/sirupsen/logrus"

	"github.com/poofware/passkey-service/internal/config"
	"github.com/poofware/passkey-service/internal/metrics"
	"github.com/poofware/passkey-service/internal/models"
	"github.com/poofware/passkey-service/internal/repositories"
	"github.com/poofware/passkey-service/internal/utils"
	"github.com/poofware/passkey-service/internal/verifier"
)

const (
	challengeEntropyBytes = 32

	DefaultListLimit = 20
	MaxListLimit     = 100

	metadataKeyVerification   = "verification"
	metadataKeyLastAuthAt     = "lastAuthenticationAt"
	metadataKeyRegisteredAt   = "registeredAt"
	metadataKeyReactivatedAt  = "reactivatedAt"
	metadataKeyUserVerified   = "userVerified"
	metadataKeyUVRequirement  = "userVerification"
	metadataKeyAttestation    = "attestation"
	metadataKeyResidentKey    = "residentKey"
	metadataKeyAuthAttachment = "authenticatorAttachment"
)

// PasskeyService owns the challenge/response protocol and the credential
// lifecycle. Every error it returns is a *PasskeyError.
type PasskeyService interface {
	IssueChallenge(
		ctx context.Context,
		subjectID uuid.UUID,
		kind models.ChallengeType,
		opts *models.RegistrationOptions,
	) (*models.PasskeyChallenge, error)
	Register(ctx context.Context, in RegistrationInput) (*RegistrationOutcome, error)
	Authenticate(ctx context.Context, in AuthenticationInput) (*AuthenticationOutcome, error)
	Revoke(ctx context.Context, subjectID uuid.UUID, credentialID, reason string) error
	List(ctx context.Context, subjectID uuid.UUID, limit, offset int) (*ListOutcome, error)
}

type RegistrationInput struct {
	SubjectID uuid.UUID
	Response  json.RawMessage
	Platform  string
	Metadata  map[string]any
}

type RegistrationOutcome struct {
	Credential  *models.PasskeyCredential
	Reactivated bool
	// Relying party identity from configuration, never from the request.
	RPName string
	RPID   string
}

type AuthenticationInput struct {
	Response json.RawMessage
	Metadata map[string]any
	Client   utils.ClientIdentifier
}

type AuthenticationOutcome struct {
	Session    *models.Session
	Subject    *models.Subject
	Credential *models.PasskeyCredential
}

type ListOutcome struct {
	Credentials []*models.PasskeyCredential
	Total       int
	Limit       int
	Offset      int
}

type passkeyService struct {
	cfg            *config.Config
	credentialRepo repositories.PasskeyCredentialRepository
	challengeRepo  repositories.PasskeyChallengeRepository
	subjectRepo    repositories.SubjectRepository
	verifier       verifier.Verifier
	sessions       SessionService
	now            func() time.Time
}

func NewPasskeyService(
	cfg *config.Config,
	credentialRepo repositories.PasskeyCredentialRepository,
	challengeRepo repositories.PasskeyChallengeRepository,
	subjectRepo repositories.SubjectRepository,
	v verifier.Verifier,
	sessions SessionService,
) PasskeyService {
	return &passkeyService{
		cfg:            cfg,
		credentialRepo: credentialRepo,
		challengeRepo:  challengeRepo,
		subjectRepo:    subjectRepo,
		verifier:       v,
		sessions:       sessions,
		now:            time.Now,
	}
}

// ---------------------------------------------------------------------
// Challenge issuance
// ---------------------------------------------------------------------

func (s *passkeyService) IssueChallenge(
	ctx context.Context,
	subjectID uuid.UUID,
	kind models.ChallengeType,
	opts *models.RegistrationOptions,
) (*models.PasskeyChallenge, error) {
	challenge, err := s.issueChallenge(ctx, subjectID, kind, opts)
	if err != nil {
		return nil, s.fail(metrics.OpChallenge, KindChallengeFailed, err, logrus.Fields{
			"subject_id": subjectID, "type": kind,
		})
	}
	metrics.RecordOperation(metrics.OpChallenge, metrics.OutcomeSuccess)
	utils.Logger.WithFields(logrus.Fields{
		"subject_id":   subjectID,
		"type":         kind,
		"discoverable": challenge.IsDiscoverable(),
	}).Debug("Issued passkey challenge")
	return challenge, nil
}

func (s *passkeyService) issueChallenge(
	ctx context.Context,
	subjectID uuid.UUID,
	kind models.ChallengeType,
	opts *models.RegistrationOptions,
) (*models.PasskeyChallenge, error) {
	if kind == models.ChallengeTypeRegistration {
		subject, err := s.subjectRepo.GetByID(ctx, subjectID)
		if err != nil {
			return nil, err
		}
		if subject == nil {
			return nil, ErrSubjectNotFound
		}
	}

	token, err := utils.RandomToken(challengeEntropyBytes)
	if err != nil {
		return nil, err
	}

	now := s.now()
	challenge := &models.PasskeyChallenge{
		ID:                  uuid.New(),
		UserID:              subjectID,
		Challenge:           token,
		Type:                kind,
		RegistrationOptions: opts,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.cfg.ChallengeTTL),
	}
	if err := s.challengeRepo.Create(ctx, challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

// ---------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------

func (s *passkeyService) Register(ctx context.Context, in RegistrationInput) (*RegistrationOutcome, error) {
	outcome, err := s.register(ctx, in)
	if err != nil {
		return nil, s.fail(metrics.OpRegister, KindRegistrationFailed, err, logrus.Fields{
			"subject_id": in.SubjectID,
		})
	}
	metrics.RecordOperation(metrics.OpRegister, metrics.OutcomeSuccess)
	utils.Logger.WithFields(logrus.Fields{
		"subject_id":    in.SubjectID,
		"credential_id": outcome.Credential.CredentialID,
		"reactivated":   outcome.Reactivated,
	}).Info("Passkey registered")
	return outcome, nil
}

func (s *passkeyService) register(ctx context.Context, in RegistrationInput) (*RegistrationOutcome, error) {
	subject, err := s.subjectRepo.GetByID(ctx, in.SubjectID)
	if err != nil {
		return nil, err
	}
	if subject == nil {
		return nil, ErrUserNotFound
	}

	now := s.now()
	challenge, err := s.resolveChallenge(ctx, models.ChallengeTypeRegistration, in.SubjectID, in.SubjectID, now)
	if err != nil {
		return nil, err
	}

	uv := challenge.RegistrationOptions.EffectiveUserVerification()
	result, err := s.verifier.VerifyRegistration(ctx, verifier.RegistrationRequest{
		SubjectID:         subject.ID,
		SubjectName:       subject.Email,
		Response:          in.Response,
		ExpectedChallenge: challenge.Challenge,
		ExpectedOrigins:   s.cfg.RPOrigins,
		ExpectedRPID:      s.cfg.RPID,
		UserVerification:  uv,
	})
	if err != nil {
		return nil, verificationError(err)
	}

	snapshot := verificationSnapshot(challenge.RegistrationOptions, uv, result.UserVerified)

	existing, err := s.credentialRepo.GetByCredentialID(ctx, result.CredentialID)
	if err != nil {
		return nil, err
	}

	var (
		credential  *models.PasskeyCredential
		reactivated bool
	)
	switch {
	case existing == nil:
		credential, err = s.createCredential(ctx, in, result, snapshot, now)
	case existing.IsActive():
		err = ErrCredentialExists
	default:
		credential, err = s.reactivateCredential(ctx, existing.ID, in, result, snapshot, now)
		reactivated = true
	}
	if err != nil {
		return nil, err
	}

	s.consumeChallenge(ctx, challenge)

	return &RegistrationOutcome{
		Credential:  credential,
		Reactivated: reactivated,
		RPName:      s.cfg.RPName,
		RPID:        s.cfg.RPID,
	}, nil
}

func (s *passkeyService) createCredential(
	ctx context.Context,
	in RegistrationInput,
	result *verifier.RegistrationResult,
	snapshot map[string]any,
	now time.Time,
) (*models.PasskeyCredential, error) {
	credential := &models.PasskeyCredential{
		ID:             uuid.New(),
		CredentialID:   result.CredentialID,
		UserID:         in.SubjectID,
		PublicKey:      result.PublicKey,
		Counter:        0,
		Platform:       in.Platform,
		AAGUID:         result.AAGUID,
		BackupEligible: result.BackupEligible,
		BackupState:    result.BackupState,
		Status:         models.CredentialStatusActive,
		LastUsed:       now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	credential.Metadata = models.MergeMetadata(in.Metadata, map[string]any{
		metadataKeyVerification: snapshot,
		metadataKeyRegisteredAt: now.UTC().Format(time.RFC3339),
	})

	if err := s.credentialRepo.Create(ctx, credential); err != nil {
		// Lost the race against a concurrent registration of the same id.
		if errors.Is(err, repositories.ErrDuplicateCredentialID) {
			return nil, newError(ErrCredentialExists, err)
		}
		return nil, err
	}
	return credential, nil
}

func (s *passkeyService) reactivateCredential(
	ctx context.Context,
	id uuid.UUID,
	in RegistrationInput,
	result *verifier.RegistrationResult,
	snapshot map[string]any,
	now time.Time,
) (*models.PasskeyCredential, error) {
	var updated *models.PasskeyCredential
	err := s.credentialRepo.UpdateWithRetry(ctx, id, func(c *models.PasskeyCredential) error {
		if c.IsActive() {
			return ErrCredentialExists
		}
		c.UserID = in.SubjectID
		c.Platform = in.Platform
		c.PublicKey = result.PublicKey
		c.AAGUID = result.AAGUID
		c.BackupEligible = result.BackupEligible
		c.BackupState = result.BackupState
		c.Counter = 0
		c.Status = models.CredentialStatusActive
		c.RevokedAt = nil
		c.RevokedReason = nil
		c.Metadata = models.MergeMetadata(in.Metadata, map[string]any{
			metadataKeyVerification:  snapshot,
			metadataKeyReactivatedAt: now.UTC().Format(time.RFC3339),
		})
		c.LastUsed = now
		c.UpdatedAt = now
		updated = c
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		// The row cannot disappear (never deleted here), so treat it as
		// an unexpected failure.
		return nil, errors.New("revoked credential vanished during reactivation")
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// verificationSnapshot records the preferences actually enforced.
func verificationSnapshot(opts *models.RegistrationOptions, uv string, userVerified bool) map[string]any {
	snapshot := map[string]any{
		metadataKeyUVRequirement: uv,
		metadataKeyUserVerified:  userVerified,
	}
	if opts != nil {
		if opts.Attestation != "" {
			snapshot[metadataKeyAttestation] = opts.Attestation
		}
		if opts.ResidentKey != "" {
			snapshot[metadataKeyResidentKey] = opts.ResidentKey
		}
		if opts.AuthenticatorAttachment != "" {
			snapshot[metadataKeyAuthAttachment] = opts.AuthenticatorAttachment
		}
	}
	return snapshot
}

// ---------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------

func (s *passkeyService) Authenticate(ctx context.Context, in AuthenticationInput) (*AuthenticationOutcome, error) {
	outcome, err := s.authenticate(ctx, in)
	if err != nil {
		return nil, s.fail(metrics.OpAuthenticate, KindAuthenticationFailed, err, logrus.Fields{
			"client": in.Client.Key(),
		})
	}
	metrics.RecordOperation(metrics.OpAuthenticate, metrics.OutcomeSuccess)
	utils.Logger.WithFields(logrus.Fields{
		"subject_id":    outcome.Subject.ID,
		"credential_id": outcome.Credential.CredentialID,
		"counter":       outcome.Credential.Counter,
	}).Info("Passkey authentication succeeded")
	return outcome, nil
}

func (s *passkeyService) authenticate(ctx context.Context, in AuthenticationInput) (*AuthenticationOutcome, error) {
	credentialID, err := s.verifier.CredentialID(in.Response)
	if err != nil {
		var verr *verifier.Error
		if errors.As(err, &verr) {
			return nil, newError(ErrInvalidCredential, err)
		}
		return nil, err
	}

	credential, err := s.credentialRepo.GetActiveByCredentialID(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	if credential == nil {
		return nil, ErrInvalidCredential
	}

	now := s.now()
	challenge, err := s.resolveChallenge(
		ctx, models.ChallengeTypeAuthentication, credential.UserID, models.DiscoverableSubjectID, now,
	)
	if err != nil {
		return nil, err
	}

	result, err := s.verifier.VerifyAuthentication(ctx, verifier.AuthenticationRequest{
		SubjectID:         credential.UserID,
		Response:          in.Response,
		ExpectedChallenge: challenge.Challenge,
		ExpectedOrigins:   s.cfg.RPOrigins,
		ExpectedRPID:      s.cfg.RPID,
		UserVerification:  challenge.RegistrationOptions.EffectiveUserVerification(),
		CredentialID:      credential.CredentialID,
		PublicKey:         credential.PublicKey,
		Counter:           credential.Counter,
		BackupEligible:    credential.BackupEligible,
		BackupState:       credential.BackupState,
	})
	if err != nil {
		if errors.Is(err, verifier.ErrCounterRegression) {
			utils.Logger.WithError(err).WithField("credential_id", credentialID).
				Error("Signature counter did not advance; possible cloned authenticator")
			return nil, newError(ErrInvalidCredential, err)
		}
		return nil, verificationError(err)
	}

	subject, err := s.subjectRepo.GetByID(ctx, credential.UserID)
	if err != nil {
		return nil, err
	}
	if subject == nil {
		utils.Logger.WithFields(logrus.Fields{
			"subject_id":    credential.UserID,
			"credential_id": credentialID,
		}).Error("Active passkey belongs to a missing subject")
		return nil, ErrUserNotFound
	}

	// Two requests replaying one assertion can both verify; only the one
	// that deletes the challenge may proceed.
	if err := s.claimChallenge(ctx, challenge); err != nil {
		return nil, err
	}

	var updated *models.PasskeyCredential
	err = s.credentialRepo.UpdateWithRetry(ctx, credential.ID, func(c *models.PasskeyCredential) error {
		if !c.IsActive() {
			return ErrInvalidCredential
		}
		// Another authentication may have advanced the counter since we read it.
		if counterRegressed(c.Counter, result.NewCounter) {
			return newError(ErrInvalidCredential, verifier.ErrCounterRegression)
		}
		c.Counter = result.NewCounter
		c.BackupState = result.BackupState
		c.LastUsed = now
		c.UpdatedAt = now
		c.Metadata = models.MergeMetadata(c.Metadata, in.Metadata, map[string]any{
			metadataKeyLastAuthAt: now.UTC().Format(time.RFC3339),
		})
		updated = c
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.CreateSession(ctx, subject.ID, in.Client)
	if err != nil {
		return nil, err
	}

	return &AuthenticationOutcome{Session: session, Subject: subject, Credential: updated}, nil
}

// counterRegressed treats two zero counters as an authenticator that does
// not implement counters.
func counterRegressed(stored, reported int64) bool {
	if stored == 0 && reported == 0 {
		return false
	}
	return reported <= stored
}

// ---------------------------------------------------------------------
// Revocation / listing
// ---------------------------------------------------------------------

func (s *passkeyService) Revoke(ctx context.Context, subjectID uuid.UUID, credentialID, reason string) error {
	if reason == "" {
		reason = models.RevokedReasonUserInitiated
	}
	fields := logrus.Fields{"subject_id": subjectID, "credential_id": credentialID}

	err := func() error {
		credential, err := s.credentialRepo.GetActiveByCredentialIDAndUser(ctx, credentialID, subjectID)
		if err != nil {
			return err
		}
		if credential == nil {
			return ErrCredentialNotFound
		}
		revoked, err := s.credentialRepo.Revoke(ctx, credential.ID, reason, s.now())
		if err != nil {
			return err
		}
		if !revoked {
			return ErrCredentialNotFound
		}
		return nil
	}()
	if err != nil {
		return s.fail(metrics.OpRevoke, KindRevocationFailed, err, fields)
	}

	metrics.RecordOperation(metrics.OpRevoke, metrics.OutcomeSuccess)
	utils.Logger.WithFields(fields).WithField("reason", reason).Info("Passkey revoked")
	return nil
}

func (s *passkeyService) List(ctx context.Context, subjectID uuid.UUID, limit, offset int) (*ListOutcome, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	credentials, total, err := s.credentialRepo.ListActiveByUser(ctx, subjectID, limit, offset)
	if err != nil {
		return nil, s.fail(metrics.OpList, KindListFailed, err, logrus.Fields{"subject_id": subjectID})
	}
	metrics.RecordOperation(metrics.OpList, metrics.OutcomeSuccess)
	if credentials == nil {
		credentials = []*models.PasskeyCredential{}
	}
	return &ListOutcome{Credentials: credentials, Total: total, Limit: limit, Offset: offset}, nil
}

// ---------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------

// resolveChallenge picks the newest usable challenge, preferring one bound
// to subjectID over one bound to fallbackID. Expired challenges are left
// for the purge sweep.
func (s *passkeyService) resolveChallenge(
	ctx context.Context,
	kind models.ChallengeType,
	subjectID, fallbackID uuid.UUID,
	now time.Time,
) (*models.PasskeyChallenge, error) {
	challenge, err := s.challengeRepo.FindLatest(ctx, kind, subjectID, fallbackID, now)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, ErrInvalidChallenge
	}
	if challenge.IsExpired(now) {
		return nil, ErrExpiredChallenge
	}
	return challenge, nil
}

// consumeChallenge deletes a used registration challenge. A failure leaves
// a stale row for the purge sweep; the credential is already stored.
func (s *passkeyService) consumeChallenge(ctx context.Context, challenge *models.PasskeyChallenge) {
	if _, err := s.challengeRepo.Delete(ctx, challenge.ID); err != nil {
		utils.Logger.WithError(err).WithField("challenge_id", challenge.ID).
			Warn("Failed to delete consumed passkey challenge")
	}
}

// claimChallenge deletes an authentication challenge and fails with
// ErrInvalidChallenge when another request already consumed it.
func (s *passkeyService) claimChallenge(ctx context.Context, challenge *models.PasskeyChallenge) error {
	deleted, err := s.challengeRepo.Delete(ctx, challenge.ID)
	if err != nil {
		return err
	}
	if !deleted {
		utils.Logger.WithField("challenge_id", challenge.ID).
			Warn("Authentication challenge already consumed; rejecting replay")
		return ErrInvalidChallenge
	}
	return nil
}

func verificationError(err error) error {
	var verr *verifier.Error
	if !errors.As(err, &verr) {
		return err
	}
	pe := newError(ErrVerificationFailed, err)
	if verr.Detail != "" {
		pe.Message = ErrVerificationFailed.Message + ": " + verr.Detail
	}
	return pe
}

// fail wraps err for the operation, logs it at the level its kind calls for
// and counts it.
func (s *passkeyService) fail(op string, catchAll ErrorKind, err error, fields logrus.Fields) error {
	wrapped := wrapError(catchAll, err)
	var pe *PasskeyError
	errors.As(wrapped, &pe)

	entry := utils.Logger.WithFields(fields).WithField("code", pe.Kind)
	if pe.Err != nil {
		entry = entry.WithError(pe.Err)
	}
	switch {
	case pe.Kind.IsCatchAll(), pe.Kind == KindVerificationFailed:
		entry.Errorf("Passkey %s failed: %s", op, pe.Message)
	default:
		entry.Warnf("Passkey %s rejected: %s", op, pe.Message)
	}

	metrics.RecordOperation(op, string(pe.Kind))
	return wrapped
}
