package gemini

// TagSystemInstruction asks the model for a short list of tags describing a journal entry.
const TagSystemInstruction = `You label personal journal entries. Read the entry and return between 3 and 5 short, lowercase tags (one or two words each) describing its main topics and feelings.

Return ONLY a JSON array of strings, for example: ["work", "stress", "family"]. No explanations, no markdown.`

// FactExtractionSystemInstruction asks the model to pull durable personal facts out of chat messages.
const FactExtractionSystemInstruction = `You maintain a small memory of durable facts about one user of a journaling assistant. Read the user's recent messages and extract facts that will still be true and useful in future conversations.

## WHAT TO EXTRACT
- person: people in the user's life and their relation ("sister named Ana")
- place: places the user lives, works or often goes to
- preference: stable likes and dislikes ("enjoys swimming", "dislikes crowded places")
- goal: ongoing goals or intentions ("training for a half marathon")
- other: any other durable personal fact

## RULES [CRITICAL]
- Only use what the user states about themselves. Ignore anything the assistant said.
- Skip moods of the day, one-off events and anything speculative.
- NEVER include sensitive data (addresses, phone numbers, financial or health identifiers).
- Keep each value short, in third person, without the user's name.
- Do not repeat facts listed under "Known facts".
- Return an empty array when there is nothing new.

Known facts:
%s

Messages:
`
