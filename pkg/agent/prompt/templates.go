package prompt

// ReAct loop format instructions shared by the react-family strategies.
const reactFormatTemplate = `Answer the following question as best you can using the provided tools.

Use this format exactly:

Question: the input question you must answer
Thought: you should always think about what to do
Action: the action to take, must be one of the available tools in 'server.tool' format
Action Input: the input to the action as a JSON object
Observation: the result of the action
... (this Thought/Action/Action Input/Observation can repeat N times)
Thought: I now know the final answer
Final Answer: the final answer to the original input question`

// Termination variant for the data-collection-only strategy.
const reactToolsTermination = `You are collecting diagnostic data only. Do NOT produce an analysis.
When you have gathered everything relevant, respond with a final line containing exactly:

DONE`

// Scope note for the stage-scoped partial analysis strategy.
const reactToolsPartialScope = `When you conclude, provide a partial analysis covering ONLY the data you
collected in this stage. Later stages will synthesize across stages.`

// Instructions for the synthesis-only strategy (no tools bound).
const finalAnalysisTemplate = `You are performing the final analysis of an investigation. You have NO tools;
all diagnostic data was already collected by earlier stages and is included
below. Synthesize a comprehensive analysis: root cause, evidence, and
recommended remediation.

Conclude with:

Final Answer: <your complete analysis>`

// Instructions for the regular (non-ReAct) strategy.
const regularTemplate = `Investigate the alert below. You may call the provided tools by responding
with exactly:

Action: <server.tool>
Action Input: <JSON object>

When you are done investigating, respond with your complete analysis as plain
text (no Action line).`

// generalInstructions is the SRE persona prelude shared by all strategies.
const generalInstructions = `You are an expert Site Reliability Engineer investigating an operational
alert. Be precise, cite the data you observed, and prefer namespaced,
read-only queries.`
