package models

const (
	SectionRegex     = `^(\d{1,2}(?:\.\d{1,2}){0,3})\.?\s+([A-Z][^.]{2,80})$`
	ContextSeparator = "\n\n"
	ThinkTag         = `(?s)<think>.*?</think>`
	PreviewLength    = 500
	SessionNameRunes = 30
	DefaultSession   = "New chat"
	UnknownSource    = "unknown"
)

// Metadata keys stored alongside every chunk.
const (
	MetaSource        = "source"
	MetaDisplaySource = "display_source"
	MetaPage          = "page"
	MetaChunkID       = "chunk_id"
	MetaSection       = "section"
)

// Prompt templates use Go template syntax. Variables: input, context, history.
var (
	ContextualizePrompt = `Given a chat history and the latest user question which might reference context in the chat history, formulate a standalone question which can be understood without the chat history. Do NOT answer the question, just reformulate it if needed and otherwise return it as is.`

	QAPrompt = `You are an assistant for question-answering tasks specialised in medicines and diseases.
Use the following pieces of retrieved context to answer the question. If the context does not contain the answer, say that you don't know. Do not invent facts that are not in the documents.
Start with a short direct answer, then explain the key points: classification, example drugs and mechanism, indications, adverse effects and contraindications, as far as the documents cover them.
When a medical term is used, keep the WHO term in parentheses.
Answer in Korean and use the polite form (존댓말).

{{.context}}`

	TranslatePrompt = `Translate the following Korean medical question into English.
Rules:
1. Translate medical terms into standard terminology used by the WHO, not colloquial words.
2. When two or more official English terms are plausible, list the three most likely in a bracketed list, most likely first, e.g. "what is [ coryza , upper respiratory infection , cold ]?".
3. When an official abbreviation exists, write the full term followed by the abbreviation in parentheses, e.g. "chronic obstructive pulmonary disease (COPD)".
4. Output a single English sentence with no Korean in it.

Question:
{{.input}}`

	ContextPromptTemplate = `<document>
%s
</document>
Here is the chunk we want to situate within the whole document
<chunk>
%s
</chunk>
Please give a short succinct context to situate this chunk within the overall document for the purposes of improving search retrieval of the chunk. Answer only with the succinct context and nothing else.
`

	Greeting = "의약품 및 질병에 대해 무엇이든 물어보세요!"
)
