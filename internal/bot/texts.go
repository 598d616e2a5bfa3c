package bot

// User-facing texts that are not owned by a flow definition.
const (
	CancelMessage = "Operation cancelled. What would you like to do now?\n\n" +
		"Send /groups to see the available groups\n" +
		"Send /activities to see scheduled activities\n" +
		"Send /help for everything else"

	UnknownCommandMessage = "I don't know that command. Send /help to see what you can do."

	ExpiredMenuMessage = "That menu is no longer active. Please start again."

	NoGroupsListedMessage = "There are no groups available right now.\n\n" +
		"If you are a facilitator, you can create one with /creategroup."

	NoActivitiesMessage = "There are no scheduled activities for your groups right now.\n\n" +
		"If you are a facilitator, you can start one with /startactivity."

	GroupCommandsOnlyMessage = "Please send commands to me in a private chat. In groups I only understand /link and /help."

	LinkUsageMessage = "Usage: /link <group-id>, sent inside the group chat you want to connect."

	LinkPrivateMessage = "Send /link <group-id> inside the group chat you want to connect, not here."

	GroupNotFoundMessage = "I couldn't find that group."

	NotCreatorMessage = "Only the facilitator who created this group can do that."

	GroupFullMessage = "Sorry, this group is already full."
)

const helpUnregistered = "🤖 AutiConnect - Help\n\n" +
	"I help autistic people meet in a safe and structured environment, with an AI mediator available at any time.\n\n" +
	"Commands:\n" +
	"/start - create your profile\n" +
	"/help - show this message\n\n" +
	"Please send /start to create your profile first."

const helpMember = "🤖 AutiConnect - Help\n\n" +
	"Commands:\n" +
	"/start - start the bot\n" +
	"/help - show this message\n" +
	"/groups - list the available groups\n" +
	"/activities - see scheduled activities\n" +
	"/profile - update your profile\n" +
	"/cancel - stop what you are doing\n\n" +
	"You can talk to the AI assistant here at any time for individual support. " +
	"The AI mediator is also present in the groups to help conversations and activities."

const helpFacilitator = "🤖 AutiConnect - Help for facilitators\n\n" +
	"Commands:\n" +
	"/start - start the bot\n" +
	"/help - show this message\n" +
	"/groups - list the available groups\n" +
	"/activities - see scheduled activities\n" +
	"/creategroup - create a new themed group\n" +
	"/startactivity - start a structured activity\n" +
	"/link <group-id> - connect a group chat to one of your groups (send it inside the group)\n" +
	"/cancel - stop what you are doing\n\n" +
	"You supervise the AI mediators and will receive alerts when a situation may need your attention."

const helpGroupChat = "🤖 AutiConnect\n\n" +
	"In this chat the AI mediator follows the conversation when it is enabled for the group.\n" +
	"Facilitators connect the chat with /link <group-id>. Send me a private message for everything else."
