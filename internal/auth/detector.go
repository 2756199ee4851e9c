package auth

import (
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/apiprobe/apiprobe/api/schemas"
)

// Heuristic signals for recognizing an authentication endpoint inside a
// documented operation list. Weights reflect specificity: a token-shaped
// response field says more than a keyword in the description.
var (
	authPathPatterns = []string{
		"/auth",
		"/login",
		"/token",
		"/oauth",
		"/oauth/token",
		"/oauth2/token",
		"/authenticate",
		"/session",
		"/signin",
		"/sign-in",
		"/access",
		"/accesstoken",
		"/access-token",
	}

	authKeywords = []string{
		"login", "auth", "authenticate", "token", "oauth", "session",
		"signin", "sign-in", "access", "credential", "password",
		"bearer", "jwt", "authorization", "grant", "refresh",
	}

	authRequestFields = []string{
		"username", "password", "email", "login", "client_id", "client_secret",
		"grant_type", "code", "refresh_token", "scope", "apikey", "api_key",
	}

	authResponseFields = []string{
		"access_token", "token", "accesstoken", "bearer_token", "jwt",
		"refresh_token", "refreshtoken", "expires_in", "expires_at", "expiresat",
		"token_type", "tokentype", "scope", "user_id", "userid",
	}

	templateVarRegex = regexp.MustCompile(`\{\{[^}]+\}\}`)
)

// DetectAuthEndpoint scores every operation and returns the best candidate
// together with its score, or (nil, 0) when nothing scores above zero.
func DetectAuthEndpoint(ops []schemas.Operation, logger *zap.Logger) (*schemas.Operation, int) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("auth")
	logger.Info("Detecting authentication endpoint")

	type scored struct {
		score int
		op    schemas.Operation
	}
	var candidates []scored
	for _, op := range ops {
		if score := scoreAuthEndpoint(op); score > 0 {
			candidates = append(candidates, scored{score: score, op: op})
		}
	}
	if len(candidates) == 0 {
		logger.Info("No authentication endpoint detected")
		return nil, 0
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	best := candidates[0]
	logger.Info("Detected auth endpoint",
		zap.String("operation", best.op.Key()),
		zap.Int("score", best.score),
	)
	return &best.op, best.score
}

// scoreAuthEndpoint accumulates heuristic weights for one operation.
func scoreAuthEndpoint(op schemas.Operation) int {
	score := 0

	pathLower := strings.ToLower(op.Path)
	for _, pattern := range authPathPatterns {
		if strings.Contains(pathLower, pattern) {
			score += 10
			break
		}
	}

	nameDesc := strings.ToLower(op.Path + " " + op.Description)
	for _, keyword := range authKeywords {
		if strings.Contains(nameDesc, keyword) {
			score += 5
		}
	}

	if strings.EqualFold(op.Method, "POST") {
		score += 3
	}

	for _, field := range op.RequestFields {
		nameLower := strings.ToLower(field.Name)
		for _, authField := range authRequestFields {
			if strings.Contains(nameLower, authField) {
				score += 2
				break
			}
		}
	}

	// Response fields are stronger indicators: only auth endpoints return tokens.
	for _, field := range op.ResponseFields {
		nameLower := strings.ToLower(field.Name)
		for _, authField := range authResponseFields {
			if strings.Contains(nameLower, authField) {
				score += 3
				break
			}
		}
	}

	for _, example := range op.Examples {
		if example.Body == nil {
			continue
		}
		bodyStr := strings.ToLower(stringifyBody(example.Body))
		if strings.Contains(bodyStr, "token") || strings.Contains(bodyStr, "bearer") {
			score += 5
		}
	}

	return score
}

func stringifyBody(body map[string]any) string {
	var sb strings.Builder
	for k := range body {
		sb.WriteString(k)
		sb.WriteString(" ")
	}
	for _, v := range body {
		if s, ok := v.(string); ok {
			sb.WriteString(s)
			sb.WriteString(" ")
		}
	}
	return sb.String()
}

// DetectTokenURL finds the most likely token endpoint and joins it onto the
// base URL, stripping documentation template variables like {{base_url}}.
func DetectTokenURL(ops []schemas.Operation, baseURL string, logger *zap.Logger) string {
	op, _ := DetectAuthEndpoint(ops, logger)
	if op == nil {
		return ""
	}

	path := templateVarRegex.ReplaceAllString(op.Path, "")
	path = strings.Trim(path, "/")

	baseURL = strings.TrimRight(baseURL, "/")
	if path == "" {
		return baseURL
	}
	return baseURL + "/" + path
}
