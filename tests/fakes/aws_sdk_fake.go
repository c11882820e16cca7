package fakes

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

// FakeSecretsManagerClient is an in-memory Secrets Manager.
//
// It implements backends.SecretsManagerAPI. Secrets are keyed by name;
// DeleteSecret marks a secret as scheduled for deletion instead of removing it,
// the way the real service does with a recovery window.
type FakeSecretsManagerClient struct {
	mu sync.Mutex

	Secrets map[string]*SecretData
	Errors  map[string]error // secret name -> error returned by every call
	Calls   map[string]int   // operation -> count

	// PageSize limits ListSecrets pages; zero returns everything at once.
	PageSize int
}

// SecretData is one stored secret.
type SecretData struct {
	SecretString    *string
	VersionID       string
	CreatedDate     time.Time
	LastChangedDate time.Time
	DeletedDate     *time.Time
	Description     string
	RecoveryDays    int64
}

// NewFakeSecretsManagerClient creates an empty fake.
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets: make(map[string]*SecretData),
		Errors:  make(map[string]error),
		Calls:   make(map[string]int),
	}
}

// AddSecretString stores a live secret.
func (f *FakeSecretsManagerClient) AddSecretString(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.Secrets[name] = &SecretData{
		SecretString:    aws.String(value),
		VersionID:       "v1",
		CreatedDate:     now,
		LastChangedDate: now,
	}
}

// AddError makes every call naming the secret fail with err.
func (f *FakeSecretsManagerClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// CallCount returns how many times op was invoked.
func (f *FakeSecretsManagerClient) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

// Value returns the current string value of name, or false if absent.
func (f *FakeSecretsManagerClient) Value(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Secrets[name]
	if !ok || s.DeletedDate != nil {
		return "", false
	}
	return aws.ToString(s.SecretString), true
}

func arn(name string) string {
	return fmt.Sprintf("arn:aws:secretsmanager:us-east-1:123456789012:secret:%s-AbCdEf", name)
}

func notFound(name string) error {
	return &types.ResourceNotFoundException{
		Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", name)),
	}
}

// begin records the call and returns the configured error for name.
func (f *FakeSecretsManagerClient) begin(op, name string) error {
	f.Calls[op]++
	if err, ok := f.Errors[name]; ok {
		return err
	}
	return nil
}

func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if err := f.begin("GetSecretValue", name); err != nil {
		return nil, err
	}
	s, ok := f.Secrets[name]
	if !ok {
		return nil, notFound(name)
	}
	if s.DeletedDate != nil {
		return nil, &types.InvalidRequestException{
			Message: aws.String("You can't perform this operation on the secret because it was marked for deletion."),
		}
	}
	created := s.CreatedDate
	return &secretsmanager.GetSecretValueOutput{
		ARN:           aws.String(arn(name)),
		Name:          aws.String(name),
		SecretString:  s.SecretString,
		VersionId:     aws.String(s.VersionID),
		VersionStages: []string{"AWSCURRENT"},
		CreatedDate:   &created,
	}, nil
}

func (f *FakeSecretsManagerClient) DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if err := f.begin("DescribeSecret", name); err != nil {
		return nil, err
	}
	s, ok := f.Secrets[name]
	if !ok {
		return nil, notFound(name)
	}
	created, changed := s.CreatedDate, s.LastChangedDate
	return &secretsmanager.DescribeSecretOutput{
		ARN:             aws.String(arn(name)),
		Name:            aws.String(name),
		Description:     aws.String(s.Description),
		CreatedDate:     &created,
		LastChangedDate: &changed,
		DeletedDate:     s.DeletedDate,
	}, nil
}

// ListSecrets supports the name filter and NextToken paging.
func (f *FakeSecretsManagerClient) ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls["ListSecrets"]++

	var prefixes []string
	for _, flt := range params.Filters {
		if flt.Key == types.FilterNameStringTypeName {
			prefixes = append(prefixes, flt.Values...)
		}
	}

	names := make([]string, 0, len(f.Secrets))
	for name := range f.Secrets {
		if len(prefixes) > 0 && !hasAnyPrefix(name, prefixes) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	start := 0
	if params.NextToken != nil {
		start, _ = strconv.Atoi(aws.ToString(params.NextToken))
	}
	end := len(names)
	if f.PageSize > 0 && start+f.PageSize < end {
		end = start + f.PageSize
	}

	out := &secretsmanager.ListSecretsOutput{}
	for _, name := range names[start:end] {
		s := f.Secrets[name]
		changed := s.LastChangedDate
		out.SecretList = append(out.SecretList, types.SecretListEntry{
			ARN:             aws.String(arn(name)),
			Name:            aws.String(name),
			LastChangedDate: &changed,
			DeletedDate:     s.DeletedDate,
		})
	}
	if end < len(names) {
		out.NextToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func (f *FakeSecretsManagerClient) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	if err := f.begin("CreateSecret", name); err != nil {
		return nil, err
	}
	if s, ok := f.Secrets[name]; ok {
		if s.DeletedDate != nil {
			return nil, &types.InvalidRequestException{
				Message: aws.String("You can't create this secret because a secret with this name is already scheduled for deletion."),
			}
		}
		return nil, &types.ResourceExistsException{
			Message: aws.String(fmt.Sprintf("The operation failed because the secret %s already exists.", name)),
		}
	}
	now := time.Now()
	f.Secrets[name] = &SecretData{
		SecretString:    params.SecretString,
		VersionID:       "v1",
		CreatedDate:     now,
		LastChangedDate: now,
		Description:     aws.ToString(params.Description),
	}
	return &secretsmanager.CreateSecretOutput{ARN: aws.String(arn(name)), Name: aws.String(name), VersionId: aws.String("v1")}, nil
}

func (f *FakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if err := f.begin("PutSecretValue", name); err != nil {
		return nil, err
	}
	s, ok := f.Secrets[name]
	if !ok {
		return nil, notFound(name)
	}
	s.SecretString = params.SecretString
	s.VersionID = fmt.Sprintf("v%d", f.Calls["PutSecretValue"]+1)
	s.LastChangedDate = time.Now()
	return &secretsmanager.PutSecretValueOutput{ARN: aws.String(arn(name)), Name: aws.String(name), VersionId: aws.String(s.VersionID)}, nil
}

func (f *FakeSecretsManagerClient) DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if err := f.begin("DeleteSecret", name); err != nil {
		return nil, err
	}
	s, ok := f.Secrets[name]
	if !ok {
		return nil, notFound(name)
	}
	now := time.Now()
	s.DeletedDate = &now
	s.RecoveryDays = aws.ToInt64(params.RecoveryWindowInDays)
	return &secretsmanager.DeleteSecretOutput{ARN: aws.String(arn(name)), Name: aws.String(name), DeletionDate: &now}, nil
}

// FakeSTSClient answers GetCallerIdentity with a fixed identity or Err.
type FakeSTSClient struct {
	Arn   string
	Err   error
	Calls int
}

// ExpiredTokenError is what STS returns for stale session credentials.
func ExpiredTokenError() error {
	return &smithy.GenericAPIError{Code: "ExpiredToken", Message: "The security token included in the request is expired"}
}

func (f *FakeSTSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	arnValue := f.Arn
	if arnValue == "" {
		arnValue = "arn:aws:iam::123456789012:user/test"
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String("123456789012"),
		Arn:     aws.String(arnValue),
		UserId:  aws.String("AIDATEST"),
	}, nil
}
