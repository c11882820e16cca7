package backends

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/logging"
	"github.com/systmms/vaultsync/pkg/backend"
)

// SecretsManagerAPI is the subset of the Secrets Manager client the adapter
// uses. It allows fakes in tests.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

// STSAPI is the subset of the STS client used for the login check.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

const defaultRecoveryWindowDays = 7

// AWSSecretsManager stores items as secrets holding a SecretString.
// Locations are name prefixes. Credentials come from the default AWS chain;
// there is no session token of our own.
type AWSSecretsManager struct {
	region         string
	profile        string
	endpoint       string
	accessKeyID    string
	secretKey      string
	recoveryWindow int

	sm     SecretsManagerAPI
	sts    STSAPI
	logger *logging.Logger
}

// NewAWSSecretsManager creates the adapter. Clients are built lazily in Init
// unless injected with WithSecretsManagerClient and WithSTSClient.
func NewAWSSecretsManager(cfg map[string]interface{}, opts ...Option) *AWSSecretsManager {
	o := buildOptions(opts)
	return &AWSSecretsManager{
		region:         stringOpt(cfg, "region"),
		profile:        stringOpt(cfg, "profile"),
		endpoint:       stringOpt(cfg, "endpoint"),
		accessKeyID:    stringOpt(cfg, "access_key_id"),
		secretKey:      stringOpt(cfg, "secret_access_key"),
		recoveryWindow: intOpt(cfg, "recovery_window_days", defaultRecoveryWindowDays),
		sm:             o.smClient,
		sts:            o.stsClient,
		logger:         o.logger,
	}
}

func (a *AWSSecretsManager) Name() string { return "aws.secretsmanager" }

func (a *AWSSecretsManager) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Locations:       true,
		Attachments:     false,
		RequiresSession: false,
		LocationType:    backend.LocationPrefix,
		Remote:          true,
		AuthMethods:     []string{"default-chain", "profile", "static"},
	}
}

// Init loads the AWS configuration and builds the clients.
func (a *AWSSecretsManager) Init(ctx context.Context) error {
	if a.sm != nil && a.sts != nil {
		return nil
	}

	var loadOpts []func(*config.LoadOptions) error
	if a.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(a.region))
	}
	if a.profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(a.profile))
	}
	if a.accessKeyID != "" && a.secretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(a.accessKeyID, a.secretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return dserrors.Wrap(dserrors.KindBackendUnavailable, "load AWS config", err).
			WithBackend(a.Name()).
			WithRemediation("aws configure")
	}

	if a.sm == nil {
		var smOpts []func(*secretsmanager.Options)
		if a.endpoint != "" {
			endpoint := a.endpoint
			smOpts = append(smOpts, func(o *secretsmanager.Options) { o.BaseEndpoint = &endpoint })
		}
		a.sm = secretsmanager.NewFromConfig(cfg, smOpts...)
	}
	if a.sts == nil {
		var stsOpts []func(*sts.Options)
		if a.endpoint != "" {
			endpoint := a.endpoint
			stsOpts = append(stsOpts, func(o *sts.Options) { o.BaseEndpoint = &endpoint })
		}
		a.sts = sts.NewFromConfig(cfg, stsOpts...)
	}
	return nil
}

func (a *AWSSecretsManager) SessionEnvVar() string { return "" }

func (a *AWSSecretsManager) LoginCommand() string {
	if a.profile != "" {
		return "aws sso login --profile " + a.profile
	}
	return "aws sso login"
}

func (a *AWSSecretsManager) UnlockCommand() string { return a.LoginCommand() }

// Status is Unlocked whenever STS accepts the ambient credentials.
func (a *AWSSecretsManager) Status(ctx context.Context, token string) (backend.State, error) {
	if err := a.Init(ctx); err != nil {
		return backend.StateUnauthenticated, err
	}
	if _, err := a.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}); err != nil {
		if errorCode(err) == "ExpiredToken" || errorCode(err) == "ExpiredTokenException" {
			return backend.StateExpired, nil
		}
		return backend.StateUnauthenticated, nil
	}
	return backend.StateUnlocked, nil
}

func (a *AWSSecretsManager) LoginCheck(ctx context.Context) bool {
	state, err := a.Status(ctx, "")
	return err == nil && state == backend.StateUnlocked
}

// Unlock has nothing to do: credentials are refreshed by the AWS CLI.
func (a *AWSSecretsManager) Unlock(ctx context.Context) (string, error) {
	return "", dserrors.New(dserrors.KindAuthRequired, "unlock", "AWS credentials are missing or expired").
		WithBackend(a.Name()).
		WithRemediation(a.LoginCommand())
}

func (a *AWSSecretsManager) Sync(ctx context.Context, s *backend.Session) error {
	return requireLive(s, a.Name(), "sync")
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func (a *AWSSecretsManager) handleError(op, name string, err error) error {
	var (
		notFound *types.ResourceNotFoundException
		exists   *types.ResourceExistsException
		e        *dserrors.Error
	)
	code := errorCode(err)
	switch {
	case errors.As(err, &notFound) || code == "ResourceNotFoundException":
		e = dserrors.Wrap(dserrors.KindItemNotFound, op, err).
			WithRemediation("aws secretsmanager list-secrets --filters Key=name,Values=" + name)
	case errors.As(err, &exists) || code == "ResourceExistsException":
		e = dserrors.Wrap(dserrors.KindItemAlreadyExists, op, err).
			WithRemediation("aws secretsmanager restore-secret --secret-id " + name)
	case code == "InvalidRequestException" && strings.Contains(err.Error(), "marked for deletion"):
		e = dserrors.Wrap(dserrors.KindItemNotFound, op, err).
			WithRemediation("aws secretsmanager restore-secret --secret-id " + name)
	case code == "ExpiredToken" || code == "ExpiredTokenException" || code == "UnrecognizedClientException" ||
		code == "InvalidClientTokenId":
		e = dserrors.Wrap(dserrors.KindAuthRequired, op, err).WithRemediation(a.LoginCommand())
	case code == "AccessDeniedException":
		e = dserrors.Wrap(dserrors.KindPermissionDenied, op, err).
			WithRemediation("aws sts get-caller-identity")
	default:
		e = dserrors.Wrap(dserrors.KindBackendUnavailable, op, err).
			WithRemediation("aws secretsmanager list-secrets --max-results 1")
	}
	return e.WithBackend(a.Name()).WithItem(name)
}

func (a *AWSSecretsManager) ready(ctx context.Context, s *backend.Session, op string) error {
	if err := requireLive(s, a.Name(), op); err != nil {
		return err
	}
	return a.Init(ctx)
}

func (a *AWSSecretsManager) GetItem(ctx context.Context, s *backend.Session, name string) (*backend.ItemRecord, error) {
	if err := a.ready(ctx, s, "get item"); err != nil {
		return nil, err
	}
	out, err := a.sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	if err != nil {
		return nil, a.handleError("get item", name, err)
	}
	rec := backend.ItemRecord{
		ID:       aws.ToString(out.ARN),
		Name:     aws.ToString(out.Name),
		Notes:    aws.ToString(out.SecretString),
		Location: locationOf(name),
	}
	if out.CreatedDate != nil {
		rec.RevisionDate = *out.CreatedDate
	}
	return &rec, nil
}

func (a *AWSSecretsManager) GetNotes(ctx context.Context, s *backend.Session, name string) (string, error) {
	rec, err := a.GetItem(ctx, s, name)
	if err != nil {
		return "", err
	}
	return rec.Notes, nil
}

func (a *AWSSecretsManager) GetItemID(ctx context.Context, s *backend.Session, name string) (string, error) {
	if err := a.ready(ctx, s, "get item id"); err != nil {
		return "", err
	}
	out, err := a.sm.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{SecretId: aws.String(name)})
	if err != nil {
		return "", a.handleError("get item id", name, err)
	}
	if out.DeletedDate != nil {
		return "", a.handleError("get item id", name, &types.ResourceNotFoundException{Message: aws.String("secret is scheduled for deletion")})
	}
	return aws.ToString(out.ARN), nil
}

// ItemExists treats secrets scheduled for deletion as absent.
func (a *AWSSecretsManager) ItemExists(ctx context.Context, s *backend.Session, name string) (bool, error) {
	_, err := a.GetItemID(ctx, s, name)
	if dserrors.IsKind(err, dserrors.KindItemNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (a *AWSSecretsManager) ListItems(ctx context.Context, s *backend.Session) ([]backend.ItemRecord, error) {
	return a.list(ctx, s, "")
}

func (a *AWSSecretsManager) list(ctx context.Context, s *backend.Session, prefix string) ([]backend.ItemRecord, error) {
	if err := a.ready(ctx, s, "list items"); err != nil {
		return nil, err
	}

	input := &secretsmanager.ListSecretsInput{}
	if prefix != "" {
		input.Filters = []types.Filter{{
			Key:    types.FilterNameStringTypeName,
			Values: []string{strings.TrimSuffix(prefix, "/") + "/"},
		}}
	}

	var out []backend.ItemRecord
	pager := secretsmanager.NewListSecretsPaginator(a.sm, input)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, a.handleError("list items", prefix, err)
		}
		for _, entry := range page.SecretList {
			if entry.DeletedDate != nil {
				continue
			}
			name := aws.ToString(entry.Name)
			rec := backend.ItemRecord{ID: aws.ToString(entry.ARN), Name: name, Location: locationOf(name)}
			if entry.LastChangedDate != nil {
				rec.RevisionDate = *entry.LastChangedDate
			}
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (a *AWSSecretsManager) CreateItem(ctx context.Context, s *backend.Session, name, content string) error {
	if err := a.ready(ctx, s, "create item"); err != nil {
		return err
	}
	_, err := a.sm.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(content),
		Description:  aws.String("managed by vaultsync"),
	})
	if err != nil {
		return a.handleError("create item", name, err)
	}
	a.logger.Debug("created secret %s", name)
	return nil
}

func (a *AWSSecretsManager) UpdateItem(ctx context.Context, s *backend.Session, name, content string) error {
	if err := a.ready(ctx, s, "update item"); err != nil {
		return err
	}
	_, err := a.sm.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(content),
	})
	if err != nil {
		return a.handleError("update item", name, err)
	}
	a.logger.Debug("updated secret %s", name)
	return nil
}

func (a *AWSSecretsManager) DeleteItem(ctx context.Context, s *backend.Session, name string) error {
	if err := a.ready(ctx, s, "delete item"); err != nil {
		return err
	}
	_, err := a.sm.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:             aws.String(name),
		RecoveryWindowInDays: aws.Int64(int64(a.recoveryWindow)),
	})
	if err != nil {
		return a.handleError("delete item", name, err)
	}
	return nil
}

// ListLocations returns every distinct prefix of secret names.
func (a *AWSSecretsManager) ListLocations(ctx context.Context, s *backend.Session) ([]string, error) {
	items, err := a.list(ctx, s, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, it := range items {
		if it.Location != "" && !seen[it.Location] {
			seen[it.Location] = true
			out = append(out, it.Location)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (a *AWSSecretsManager) LocationExists(ctx context.Context, s *backend.Session, location string) (bool, error) {
	items, err := a.list(ctx, s, location)
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

// CreateLocation is a no-op: prefixes exist as soon as a secret uses them.
func (a *AWSSecretsManager) CreateLocation(ctx context.Context, s *backend.Session, location string) error {
	return requireLive(s, a.Name(), "create location")
}

func (a *AWSSecretsManager) ListItemsInLocation(ctx context.Context, s *backend.Session, location string) ([]backend.ItemRecord, error) {
	return a.list(ctx, s, location)
}

func (a *AWSSecretsManager) CreateItemInLocation(ctx context.Context, s *backend.Session, location, name, content string) error {
	return a.CreateItem(ctx, s, backend.QualifiedName(a.Capabilities(), location, name), content)
}

// HealthCheck calls STS GetCallerIdentity.
func (a *AWSSecretsManager) HealthCheck(ctx context.Context) error {
	if err := a.Init(ctx); err != nil {
		return err
	}
	id, err := a.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return a.handleError("check AWS credentials", "", err)
	}
	a.logger.Debug("AWS caller %s", aws.ToString(id.Arn))
	return nil
}

func (a *AWSSecretsManager) String() string {
	return fmt.Sprintf("aws.secretsmanager(region=%s)", a.region)
}
