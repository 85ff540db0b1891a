package ai

const ClassificationSystemPrompt = `You classify professional contacts for a startup fundraising network. Answer only with JSON that matches the provided schema.`

const ClassificationPrompt = `
# Task
Classify the person below as a founder, an investor, or unknown.

# Person
Name: %s
Company: %s
Position: %s

# Rules
- "founder": founders, co-founders and CEOs of early stage companies they started.
- "investor": venture capitalists, angels, partners or principals at funds, family offices and accelerators that invest.
- "unknown": anyone else, or when the fields do not support a confident answer.
- confidence is a number between 0 and 1.
- rationale is one short sentence.
- sector_focus and stage_focus list what the person works on or invests in (for example "fintech", "seed"). Use empty lists when unknown.
- check_size_min and check_size_max are in USD and only apply to investors. Use 0 when unknown.
- location, investment_thesis and tags may be empty.
`
