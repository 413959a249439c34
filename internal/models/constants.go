package models

const (
	DefaultTopK         = 5
	DefaultChunkSize    = 300 // tokens
	DefaultChunkOverlap = 50  // tokens
	DefaultEncoding     = "cl100k_base"
	DefaultDimension    = 768

	DefaultEmbedModel = "intfloat/e5-base-v2"
	DefaultChatModel  = "sambanovasystems/SambaLingo-Turkish-Chat"

	DefaultMaxNewTokens      = 512
	DefaultRepetitionPenalty = 1.0
	DefaultStreamBuffer      = 64

	// e5 models expect these markers in front of the text they encode.
	PassagePrefix = "passage: "
	QueryPrefix   = "query: "

	PageJoiner     = "\n"
	DocumentJoiner = ""
	ContextJoiner  = "\n"

	ContextPlaceholder     = "{context}"
	InstructionPlaceholder = "{instruction}"

	PromptTemplate = "<|user|>\n" +
		"Bağlam:" + ContextPlaceholder + "\n\nSoru:" + InstructionPlaceholder + "</s>\n" +
		"<|assistant|>\n"

	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	TokenizerTiktoken   = "tiktoken"
	TokenizerWhitespace = "whitespace"

	StoreFlat     = "flat"
	StoreChromem  = "chromem"
	StorePgvector = "pgvector"
)

// DefaultSeparators are tried in order: paragraph, line, sentence end, then
// word and character fallbacks.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", " ", ""}
