package pipeline

// Stage prompt templates. Placeholders are the fixed set resolved by
// domain.PromptContext; nothing else is substituted.

const questionsPromptTemplate = `You are an automotive technician answering owners of a {brand} {model} {generation} ({code}).
Write one realistic question an owner of this exact car would ask about a fault, warning light, noise or failure. This is variant {ordinal}; make it distinct from other variants.
Respond in {language} with only the question text, no preamble.`

const answersPromptTemplate = `You are an experienced {brand} master technician. An owner of a {brand} {model} {generation} ({code}) asks:

{question}

Write a thorough, practical answer covering likely causes, diagnostic steps and typical repair cost range. Respond in {language}.
Reply with a JSON object of the form {"question": "<the question, lightly edited for clarity>", "answer": "<your full answer>"} and nothing else.`

const metadataPromptTemplate = `You write SEO metadata for an automotive fault knowledge base. The page covers the {brand} {model} {generation} ({code}) and this Q&A:

Question: {question}

Answer: {answer}

Reply in {language} with a JSON object of the form {"title": "<page title, max 60 chars>", "description": "<meta description, max 155 chars>"} and nothing else.`
