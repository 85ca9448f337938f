package connectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/core"
	"github.com/beaconsec/identra/internal/logger"
	"github.com/beaconsec/identra/pkg/types"
)

// AWSConnector enumerates IAM users and their MFA devices. IAM users carry no
// email attribute, so usernames without an "@" get a synthetic domain appended
// during normalization. Missing credentials fall back to a simulated fixture.
type AWSConnector struct {
	base
	cfg config.AWSConfig
}

type awsUser struct {
	UserName         string
	UserID           string
	Arn              string
	PasswordLastUsed string
	MFAEnabled       bool
	Roles            []string
	Groups           []string
	Active           bool
}

func NewAWSConnector(cfg config.AWSConfig, limiter core.RateLimiter, log *logger.Logger) *AWSConnector {
	return &AWSConnector{
		base: newBase(string(types.SourceAWS), limiter, log),
		cfg:  cfg,
	}
}

func (c *AWSConnector) Provider() string { return c.provider }

func (c *AWSConnector) Validate(ctx context.Context) error {
	if c.cfg.AccessKey == "" || c.cfg.SecretKey == "" {
		return fmt.Errorf("aws connector missing access_key or secret_key, will serve simulated data")
	}
	return nil
}

func (c *AWSConnector) Sync(ctx context.Context) ([]*types.UnifiedIdentity, error) {
	return c.syncWithRetry(ctx, c.fetch)
}

func (c *AWSConnector) fetch(ctx context.Context) ([]*types.UnifiedIdentity, error) {
	users, err := c.fetchUsers(ctx)
	if err != nil {
		return nil, err
	}

	identities := make([]*types.UnifiedIdentity, 0, len(users))
	for i := range users {
		identities = append(identities, c.normalize(&users[i]))
	}
	return identities, nil
}

func (c *AWSConnector) fetchUsers(ctx context.Context) ([]awsUser, error) {
	if c.cfg.AccessKey == "" || c.cfg.SecretKey == "" {
		c.log.Warnw("AWS credentials missing, falling back to simulation")
		return simulatedAWSUsers(), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(c.cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.cfg.AccessKey, c.cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := iam.NewFromConfig(awsCfg)

	var users []awsUser
	paginator := iam.NewListUsersPaginator(client, &iam.ListUsersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("IAM ListUsers failed: %w", err)
		}

		for _, u := range page.Users {
			user := awsUser{Active: true}
			if u.UserName != nil {
				user.UserName = *u.UserName
			}
			if u.UserId != nil {
				user.UserID = *u.UserId
			}
			if u.Arn != nil {
				user.Arn = *u.Arn
			}
			if u.PasswordLastUsed != nil {
				user.PasswordLastUsed = u.PasswordLastUsed.UTC().Format(time.RFC3339)
			}

			// MFA status requires a separate call per user
			mfa, err := client.ListMFADevices(ctx, &iam.ListMFADevicesInput{UserName: u.UserName})
			user.MFAEnabled = err == nil && len(mfa.MFADevices) > 0

			users = append(users, user)
		}
	}

	return users, nil
}

func (c *AWSConnector) normalize(u *awsUser) *types.UnifiedIdentity {
	email := u.UserName
	if !strings.Contains(email, "@") {
		email = email + "@company.aws"
	}

	score := 5.0
	if !u.MFAEnabled {
		score += 40
	}
	if hasRole(u.Roles, "AdministratorAccess") {
		score += 20
	}

	return &types.UnifiedIdentity{
		ID:              u.UserID,
		Email:           email,
		Source:          types.SourceAWS,
		Roles:           u.Roles,
		MFAEnabled:      u.MFAEnabled,
		LastLogin:       parseTimestamp(u.PasswordLastUsed),
		IsActive:        u.Active,
		RiskScore:       clampScore(score),
		LinkedAccounts:  []string{},
		GroupMembership: u.Groups,
	}
}

func simulatedAWSUsers() []awsUser {
	return []awsUser{
		{
			UserName:         "cloud-admin",
			UserID:           "aws-u1",
			Arn:              "arn:aws:iam::123456789012:user/cloud-admin",
			PasswordLastUsed: "2026-02-20T08:00:00Z",
			MFAEnabled:       true,
			Roles:            []string{"AdministratorAccess"},
			Groups:           []string{"Cloud-Ops", "Security-Admins"},
			Active:           true,
		},
	}
}
