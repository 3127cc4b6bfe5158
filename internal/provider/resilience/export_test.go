package resilience

var ParseRetryAfter = parseRetryAfter
