// Package classifier grades API operations by the damage running them
// against a live system could do. Verdicts drive the execution engine's
// skip decisions, so the classifier must always answer: an LLM verdict is
// preferred, keyword scoring is the fallback, and the zero-risk default
// only applies when neither heuristic fires.
package classifier

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/apiprobe/apiprobe/api/schemas"
	"github.com/apiprobe/apiprobe/internal/llmutil"
)

// productionKeywords groups risk verbs by effect category. The vocabulary is
// Portuguese-first because the documentation corpora this tool grew up on
// are, with the category key doubling as the effect tag.
var productionKeywords = []struct {
	category string
	keywords []string
}{
	{category: "criar", keywords: []string{"criar", "gravar", "inserir", "salvar", "cadastrar", "digitar", "registrar"}},
	{category: "aprovar", keywords: []string{"aprovar", "confirmar", "efetivar", "finalizar", "concluir", "validar"}},
	{category: "modificar", keywords: []string{"atualizar", "modificar", "alterar", "editar", "mudar"}},
	{category: "deletar", keywords: []string{"deletar", "remover", "excluir", "cancelar", "apagar"}},
	{category: "enviar", keywords: []string{"enviar", "submeter", "processar", "executar"}},
}

// highRiskCategories escalate a production match from MEDIUM to HIGH.
var highRiskCategories = map[string]bool{
	"criar":   true,
	"aprovar": true,
	"deletar": true,
}

// safeKeywords mark read-only operations. A safe match overrides any
// production match: "validarConsulta" reads, it does not approve.
var safeKeywords = []string{
	"buscar", "consultar", "listar", "obter", "simular", "validar", "verificar",
	"search", "list", "get", "find", "check", "validate",
}

// stopWords are skipped when mining an operation name out of a description.
var stopWords = map[string]bool{
	"a": true, "o": true, "de": true, "da": true, "do": true,
	"em": true, "para": true, "com": true, "the": true, "an": true,
}

// aiVerdict is the JSON shape the model is asked to return.
type aiVerdict struct {
	IsProduction bool     `json:"is_production"`
	RiskLevel    string   `json:"risk_level"`
	Effects      []string `json:"effects"`
	Reason       string   `json:"reason"`
}

// Classifier memoizes verdicts per operation key for the lifetime of the
// instance. The memo is never invalidated: operations are immutable within a
// run and a fresh run builds a fresh classifier.
type Classifier struct {
	llm    schemas.LLMClient
	logger *zap.Logger
	memo   map[string]schemas.Classification
}

// New builds a classifier. A nil LLM client means keyword-only operation.
func New(llm schemas.LLMClient, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		llm:    llm,
		logger: logger.Named("classifier"),
		memo:   map[string]schemas.Classification{},
	}
}

// Classify returns the verdict for one operation, consulting the memo first.
// docContext is free-text surrounding documentation handed to the model.
func (c *Classifier) Classify(ctx context.Context, op schemas.Operation, docContext string) schemas.Classification {
	key := op.Key()
	if verdict, ok := c.memo[key]; ok {
		return verdict
	}

	name := OperationName(op)

	var verdict schemas.Classification
	if c.llm != nil {
		var err error
		verdict, err = c.classifyWithAI(ctx, name, op, docContext)
		if err != nil {
			c.logger.Error("AI classification failed, falling back to keywords",
				zap.String("operation", key), zap.Error(err))
			verdict = c.classifyWithKeywords(name, op)
		}
	} else {
		verdict = c.classifyWithKeywords(name, op)
	}

	c.memo[key] = verdict
	return verdict
}

// ClassifyAll classifies every operation, keyed by op.Key().
func (c *Classifier) ClassifyAll(ctx context.Context, ops []schemas.Operation, docContext string) map[string]schemas.Classification {
	verdicts := make(map[string]schemas.Classification, len(ops))
	for _, op := range ops {
		verdicts[op.Key()] = c.Classify(ctx, op, docContext)
	}
	return verdicts
}

func (c *Classifier) classifyWithAI(ctx context.Context, name string, op schemas.Operation, docContext string) (schemas.Classification, error) {
	prompt := buildClassificationPrompt(name, op, docContext)

	raw, err := c.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: "You are an expert at analyzing API operations and identifying which ones affect production systems. Always return valid JSON.",
		UserPrompt:   prompt,
		Options: schemas.GenerationOptions{
			Temperature:     0.1,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		return schemas.Classification{}, fmt.Errorf("generating classification: %w", err)
	}

	verdict, err := llmutil.ParseJSONResponse[aiVerdict](raw)
	if err != nil {
		return schemas.Classification{}, fmt.Errorf("parsing classification verdict: %w", err)
	}

	risk := normalizeRisk(verdict.RiskLevel)
	state := "SAFE"
	if verdict.IsProduction {
		state = "PRODUCTION"
	}
	c.logger.Info("AI classified operation", zap.String("operation", name), zap.String("verdict", state))

	reason := verdict.Reason
	if reason == "" {
		reason = "AI analysis"
	}

	return schemas.Classification{
		IsProduction: verdict.IsProduction,
		RiskLevel:    risk,
		Effects:      verdict.Effects,
		Reason:       reason,
	}, nil
}

// classifyWithKeywords scores an operation on verb vocabulary alone.
func (c *Classifier) classifyWithKeywords(name string, op schemas.Operation) schemas.Classification {
	combined := strings.ToLower(name + " " + op.Description)

	verdict := schemas.Classification{
		IsProduction: false,
		RiskLevel:    schemas.RiskLow,
		Effects:      []string{},
		Reason:       "Safe operation",
	}

	for _, family := range productionKeywords {
		for _, keyword := range family.keywords {
			if strings.Contains(combined, keyword) {
				verdict.IsProduction = true
				if highRiskCategories[family.category] {
					verdict.RiskLevel = schemas.RiskHigh
				} else {
					verdict.RiskLevel = schemas.RiskMedium
				}
				verdict.Effects = []string{family.category + "_operation"}
				verdict.Reason = fmt.Sprintf("Contains '%s' - indicates %s operation", keyword, family.category)
				break
			}
		}
		if verdict.IsProduction {
			break
		}
	}

	for _, safe := range safeKeywords {
		if strings.Contains(combined, safe) {
			verdict.IsProduction = false
			verdict.RiskLevel = schemas.RiskLow
			verdict.Effects = []string{"read_only"}
			verdict.Reason = fmt.Sprintf("Contains '%s' - read-only operation", safe)
			break
		}
	}

	if op.Method == schemas.MethodGet && !verdict.IsProduction {
		verdict.RiskLevel = schemas.RiskLow
		verdict.Effects = []string{"read_only"}
	}

	return verdict
}

func buildClassificationPrompt(name string, op schemas.Operation, docContext string) string {
	path := op.Path
	if path == "" {
		path = "(no path)"
	}
	description := op.Description
	if description == "" {
		description = "Not provided"
	}
	if docContext == "" {
		docContext = "No additional context"
	} else {
		docContext = llmutil.Truncate(docContext, 500)
	}

	return fmt.Sprintf(`Analyze this API operation and determine if it creates or modifies PERMANENT data in a PRODUCTION system.

Operation Name: %s
HTTP Method: %s
Path: %s
Description: %s

Context: %s

PRODUCTION operations include those that:
- Create real data (proposals, contracts, customers)
- Approve/confirm/finalize transactions
- Register/save in production databases
- Send to external systems
- Perform financial operations
- Delete permanent data

Examples of PRODUCTION operations:
- gravarProposta (saves proposal to production)
- digitarContrato (registers contract)
- aprovarProposta (approves proposal)
- criarCliente (creates customer)
- efetivarPagamento (executes payment)

Examples of SAFE operations:
- buscarProposta (search/query)
- consultarStatus (check status)
- simular (simulate, no persistence)
- validar (validate without saving)
- listar (list/read)

Return JSON:
{
  "is_production": true or false,
  "risk_level": "LOW" or "MEDIUM" or "HIGH",
  "effects": ["creates_data", "permanent", "production"],
  "reason": "Clear explanation of why this is/isn't production"
}

Importante: Responda em português brasileiro.

Retorne apenas JSON válido.`, name, op.Method, path, description, docContext)
}

func normalizeRisk(raw string) schemas.RiskLevel {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(schemas.RiskHigh):
		return schemas.RiskHigh
	case string(schemas.RiskMedium):
		return schemas.RiskMedium
	default:
		return schemas.RiskLow
	}
}

// OperationName digs a human-meaningful action name out of an operation:
// the last interesting path segment, else the first substantial word of the
// description, else a method-derived placeholder.
func OperationName(op schemas.Operation) string {
	if op.Path != "" {
		parts := strings.Split(strings.Trim(op.Path, "/"), "/")

		// WSDL-style paths carry the operation after a query marker.
		if strings.Contains(op.Path, "?") && len(parts) > 0 {
			last := parts[len(parts)-1]
			if name := strings.SplitN(last, "?", 2)[0]; name != "" {
				return name
			}
		}

		if len(parts) > 0 {
			name := parts[len(parts)-1]
			// Path parameters like {id} name the resource, not the action.
			if strings.Contains(name, "{") && len(parts) > 1 {
				name = parts[len(parts)-2]
			}
			if name != "" {
				return name
			}
		}
	}

	if op.Description != "" {
		for _, word := range strings.Fields(op.Description) {
			if stopWords[strings.ToLower(word)] {
				continue
			}
			clean := stripNonAlnum(word)
			if len(clean) > 2 {
				return clean
			}
		}
	}

	if op.Method != "" {
		return strings.ToLower(op.Method) + "_operation"
	}
	return "unknown"
}

func stripNonAlnum(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
