package prompt

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"pdfchat/internal/models"
)

const (
	contextVar     = "context"
	instructionVar = "instruction"
)

// Assembler fills a template with retrieved context and the instruction.
type Assembler struct {
	template prompts.PromptTemplate
}

// NewAssembler parses template as an f-string with {context} and
// {instruction} variables. An empty template selects the default one.
func NewAssembler(template string) (*Assembler, error) {
	if template == "" {
		template = models.PromptTemplate
	}
	vars := []string{contextVar, instructionVar}
	if err := prompts.CheckValidTemplate(template, prompts.TemplateFormatFString, vars); err != nil {
		return nil, fmt.Errorf("invalid prompt template: %w", err)
	}
	t := prompts.NewPromptTemplate(template, vars)
	t.TemplateFormat = prompts.TemplateFormatFString
	return &Assembler{template: t}, nil
}

// Assemble joins segments in the order given and fills the template.
// Substituted values are not parsed again, so text containing a
// placeholder stays literal.
func (a *Assembler) Assemble(instruction string, segments []string) (context, prompt string, err error) {
	context = strings.Join(segments, models.ContextJoiner)
	prompt, err = a.template.Format(map[string]any{
		contextVar:     context,
		instructionVar: instruction,
	})
	if err != nil {
		return "", "", err
	}
	return context, prompt, nil
}

// Assemble uses the default template.
func Assemble(instruction string, segments []string) (context, prompt string, err error) {
	a, err := NewAssembler("")
	if err != nil {
		return "", "", err
	}
	return a.Assemble(instruction, segments)
}
