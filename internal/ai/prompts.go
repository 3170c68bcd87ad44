package ai

// ImportancePrompt asks the model to rate a single WhatsApp message.
// The format string expects 4 parameters: chat name, sender, whether the
// message carries media ("yes"/"no"), and the message text.
const ImportancePrompt = `You are a message triage assistant. Rate the importance of the following WhatsApp message on a scale from 1 to 5:

1 = noise: greetings, stickers, emoji-only reactions, small talk
2 = minor: casual conversation with no actionable content
3 = notable: information the recipient would want to see in a periodic summary
4 = important: direct questions, requests, plans, deadlines, money matters
5 = urgent: emergencies, safety issues, anything requiring immediate attention

Chat: %s
Sender: %s
Has media attachment: %s
Message: %s

Respond with a single digit from 1 to 5 and nothing else.`

// TranslatePrompt asks the model to translate message text into Russian.
// The format string expects 1 parameter: the message text.
const TranslatePrompt = `Translate the following message into Russian. If it is already in Russian, return it unchanged. Preserve the meaning and tone, keep names and numbers as they are. Respond with the translation only, no explanations:

%s`

// DigestPrompt asks the model to compose a digest summary in Russian from
// messages grouped by chat. The format string expects 1 parameter: the
// formatted message blocks.
const DigestPrompt = `You are preparing a periodic digest of WhatsApp messages for a busy reader. The messages below are grouped by chat, each group delimited by "=== Chat Name ===".

Write a concise digest in Russian:
- One section per chat, starting with the chat name in bold (*Chat Name*)
- Summarize the conversation in 1-3 short sentences per chat
- Call out questions, requests, deadlines, and agreed plans explicitly
- Mention who said what when it matters
- Skip greetings and small talk entirely
- Do not invent anything that is not in the messages

Messages:

%s`
