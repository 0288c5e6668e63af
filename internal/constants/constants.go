package constants

const (
	AuthorizationTokenCookieKey = "auth_token"
	AuthorizationTokenKey       = "X-Authorization"
	BflUserKey                  = "X-Bfl-User"
	AccessTokenHeader           = "X-Access-Token"

	APIServerListenAddress = ":81"
	DefaultConfigFile      = "/etc/billing/config.yaml"
)

const (
	StatusBackendHTTP  = "http"
	StatusBackendRedis = "redis"
)

const (
	PaymentStatusURLTempl    = "%s/api/v1/payments/%s/status"
	PermissionAccessURLTempl = "http://%s/permission/v1alpha1/access"

	RedisPaymentStatusKeyTempl = "billing:payment:status:%s"

	DefaultNATSSubject = "billing.payment.status"
)

// Notification types pushed to the frontend for a tracking view
const (
	NotifyPaymentSucceeded  = "payment_succeeded"
	NotifyPaymentFailed     = "payment_failed"
	NotifyPaymentTimeout    = "payment_timeout"
	NotifyRedirectCountdown = "redirect_countdown"
	NotifyRedirect          = "redirect"
	NotifyNavigate          = "navigate"
)
