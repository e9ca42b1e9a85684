// Package ftpmock is the file-transfer listener of the mock engine.
//
// Every active FTP definition is an account: the definition name is both
// the user and the password, and the account's home is the directory of the
// same name under FTP_ROOT_DIR. Files are placed there with Store or by
// uploading them over FTP.
package ftpmock
