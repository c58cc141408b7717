package domain

// KeyPrefix namespaces every key-value store entry written by librarian.
const KeyPrefix = "librarian:"
