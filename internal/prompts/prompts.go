package prompts

// DefaultSystem keeps generated replies short enough for the avatar to speak
// without long pauses.
const DefaultSystem = "You are a friendly digital avatar. Keep responses short and conversational."
