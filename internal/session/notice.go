package session

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "default"
	NoticeError NoticeLevel = "destructive"
)

// Notice is a short user-facing message produced by a session operation.
type Notice struct {
	Level   NoticeLevel
	Title   string
	Message string
}

const failureTitle = "Uh oh! Something went wrong."

func info(title, msg string) Notice {
	return Notice{Level: NoticeInfo, Title: title, Message: msg}
}

func failure(msg string) Notice {
	return Notice{Level: NoticeError, Title: failureTitle, Message: msg}
}
